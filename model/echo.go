package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"echoes/core/echo"
	"echoes/core/element"
	"echoes/core/geo"
)

// Coords 经纬度坐标，存为 JSON 列
type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Scan 实现 sql.Scanner 接口
func (c *Coords) Scan(value interface{}) error {
	b, ok := jsonBytes(value)
	if !ok {
		*c = Coords{}
		return nil
	}
	return json.Unmarshal(b, c)
}

// Value 实现 driver.Valuer 接口
func (c Coords) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c Coords) coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat, Lng: c.Lng}
}

// CoordsList 多边形顶点列表 (JSON 列)
type CoordsList []Coords

// Scan 实现 sql.Scanner 接口
func (l *CoordsList) Scan(value interface{}) error {
	b, ok := jsonBytes(value)
	if !ok {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// Value 实现 driver.Valuer 接口
func (l CoordsList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func jsonBytes(value interface{}) ([]byte, bool) {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil, false
	}
	if len(b) == 0 || string(b) == "null" {
		return nil, false
	}
	return b, true
}

// Collection 一组 echo (一次导览)
type Collection struct {
	ID        string    `json:"_id" gorm:"primaryKey;size:64"`
	Title     string    `json:"title" gorm:"size:255"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	Echoes    []Echo    `json:"echoes" gorm:"foreignKey:CollectionID"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Collection) TableName() string {
	return "collections"
}

// Echo 地理围栏点
type Echo struct {
	ID           string     `json:"_id" gorm:"primaryKey;size:64"`
	CollectionID string     `json:"collection_id" gorm:"size:64;index"`
	Position     int        `json:"position" gorm:"default:0"` // 在集合中的顺序
	Title        string     `json:"title" gorm:"size:255"`
	Shape        string     `json:"shape" gorm:"size:16;default:'circle'"` // circle, polygon
	Lat          float64    `json:"lat"`
	Lng          float64    `json:"lng"`
	Radius       float64    `json:"radius"`
	Polygon      CoordsList `json:"polygon,omitempty" gorm:"type:json"`
	HideZone     bool       `json:"hide_zone"`
	Elements     []Element  `json:"elements" gorm:"foreignKey:EchoID"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Echo) TableName() string {
	return "echoes"
}

// Element 可播放元素
type Element struct {
	ID                string  `json:"_id" gorm:"primaryKey;size:64"`
	EchoID            string  `json:"echo_id" gorm:"size:64;index"`
	Position          int     `json:"position" gorm:"default:0"`
	Type              string  `json:"type" gorm:"size:32;default:'sound'"`
	Title             string  `json:"title" gorm:"size:255"`
	MediaHref         string  `json:"media_href" gorm:"size:1024"`
	LocalPath         string  `json:"local_path,omitempty" gorm:"-"` // 下载后的本地文件，不入库
	Spatialization    bool    `json:"spatialization"`
	ThreeD            bool    `json:"threed" gorm:"column:threed"`
	Resume            bool    `json:"resume"`
	PlayLoop          bool    `json:"play_loop"`
	PlayOnce          bool    `json:"play_once"`
	PlayComplete      bool    `json:"play_complete"`
	ThreeDMinDist     float64 `json:"threed_min_dist" gorm:"column:threed_min_dist;default:0"`
	ThreeDMaxDist     float64 `json:"threed_max_dist" gorm:"column:threed_max_dist;default:20"`
	ThreeDRolloff     string  `json:"threed_rolloff" gorm:"column:threed_rolloff;size:16;default:'inverse'"`
	RelativeElevation float64 `json:"relative_elevation"`
	FadeInMs          int     `json:"fade_in_ms" gorm:"default:0"`
	FadeOutMs         int     `json:"fade_out_ms" gorm:"default:500"`
	Coords            *Coords `json:"coords,omitempty" gorm:"type:json"`
	SyncGroup         int     `json:"sync_group" gorm:"default:-1"`
	Tempo             float64 `json:"tempo" gorm:"default:120"`
	SyncBeats         int     `json:"sync_beats" gorm:"default:4"`
	SizeBytes         int64   `json:"size_bytes"`
}

// TableName 指定表名
func (Element) TableName() string {
	return "elements"
}

// NewElement 返回带默认值的元素
func NewElement() Element {
	return Element{
		Type:          element.TypeSound,
		ThreeDMaxDist: 20,
		ThreeDRolloff: element.RolloffInverse,
		FadeOutMs:     500,
		SyncGroup:     element.NoSyncGroup,
		Tempo:         120,
		SyncBeats:     4,
	}
}

// UnmarshalJSON 缺省字段取默认值 (sync_group 缺省为 -1 而不是 0)
func (e *Element) UnmarshalJSON(b []byte) error {
	type plain Element
	p := plain(NewElement())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Element(p)
	return nil
}

// Descriptor 转换为运行时的元素描述
func (e Element) Descriptor() element.Descriptor {
	d := element.Descriptor{
		ID:                e.ID,
		Type:              e.Type,
		Title:             e.Title,
		MediaHref:         e.MediaHref,
		LocalPath:         e.LocalPath,
		Spatialization:    e.Spatialization,
		ThreeD:            e.ThreeD,
		Resume:            e.Resume,
		PlayLoop:          e.PlayLoop,
		PlayOnce:          e.PlayOnce,
		PlayComplete:      e.PlayComplete,
		MinDistance:       e.ThreeDMinDist,
		MaxDistance:       e.ThreeDMaxDist,
		Rolloff:           e.ThreeDRolloff,
		RelativeElevation: e.RelativeElevation,
		FadeIn:            time.Duration(e.FadeInMs) * time.Millisecond,
		FadeOut:           time.Duration(e.FadeOutMs) * time.Millisecond,
		SyncGroup:         e.SyncGroup,
		Tempo:             e.Tempo,
		SyncBeats:         e.SyncBeats,
		SizeBytes:         e.SizeBytes,
	}
	if e.Coords != nil {
		c := e.Coords.coordinate()
		d.Coords = &c
	}
	return d
}

// Definition 校验并转换为 echo.Definition
func (e Echo) Definition() (echo.Definition, error) {
	ring := make(geo.Ring, 0, len(e.Polygon))
	for _, c := range e.Polygon {
		ring = append(ring, c.coordinate())
	}
	elems := make([]element.Descriptor, 0, len(e.Elements))
	for _, el := range e.Elements {
		elems = append(elems, el.Descriptor())
	}
	zone := echo.Zone{
		Shape:  echo.Shape(e.Shape),
		Centre: geo.Coordinate{Lat: e.Lat, Lng: e.Lng},
		Radius: e.Radius,
		Ring:   ring,
	}
	if zone.Shape == "" {
		zone.Shape = echo.ShapeCircle
	}
	return echo.NewDefinition(e.ID, e.Title, zone, elems, e.HideZone)
}

// Runtime 构建集合对应的 echo.Collection，任何一个 echo 非法都会返回错误
func (c Collection) Runtime() (*echo.Collection, error) {
	defs := make([]echo.Definition, 0, len(c.Echoes))
	for _, e := range c.Echoes {
		d, err := e.Definition()
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.ID, err)
		}
		defs = append(defs, d)
	}
	var centre *geo.Coordinate
	if c.Lat != nil && c.Lng != nil {
		centre = &geo.Coordinate{Lat: *c.Lat, Lng: *c.Lng}
	}
	return echo.NewCollection(c.ID, c.Title, centre, defs...), nil
}

// EchoEvent 分析事件
type EchoEvent struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Event       string    `json:"event" gorm:"size:32;index;not null"` // trigger_echo, detrigger_echo
	ItemID      string    `json:"item_id" gorm:"size:64;index"`
	ItemName    string    `json:"item_name" gorm:"size:255"`
	ContentType string    `json:"content_type" gorm:"size:32"`
	TriggerType string    `json:"trigger_type,omitempty" gorm:"size:16"`
	SessionID   string    `json:"session_id" gorm:"size:36;index"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (EchoEvent) TableName() string {
	return "echo_events"
}
