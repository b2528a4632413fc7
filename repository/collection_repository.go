package repository

import (
	"context"
	"errors"
	"sync"

	"echoes/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionRepository collection 定义的数据访问接口
type CollectionRepository interface {
	GetByID(ctx context.Context, id string) (*model.Collection, error)
	List(ctx context.Context) ([]*model.Collection, error)
	Save(ctx context.Context, c *model.Collection) error
}

// gormCollectionRepository GORM 实现
type gormCollectionRepository struct {
	db *gorm.DB
}

// NewGormCollectionRepository 创建 GORM collection 仓库
func NewGormCollectionRepository(db *gorm.DB) CollectionRepository {
	return &gormCollectionRepository{db: db}
}

func withTree(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Echoes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Echoes.Elements", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
}

// GetByID 读取完整的 collection (echo + 元素)，不存在时返回 nil, nil
func (r *gormCollectionRepository) GetByID(ctx context.Context, id string) (*model.Collection, error) {
	var c model.Collection
	err := withTree(r.db.WithContext(ctx)).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// List 列出所有 collection
func (r *gormCollectionRepository) List(ctx context.Context) ([]*model.Collection, error) {
	var cs []*model.Collection
	err := withTree(r.db.WithContext(ctx)).Order("title ASC").Find(&cs).Error
	return cs, err
}

// Save 在一个事务中 upsert collection 及其全部 echo 和元素
func (r *gormCollectionRepository) Save(ctx context.Context, c *model.Collection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(c).Error; err != nil {
			return err
		}
		for i := range c.Echoes {
			e := &c.Echoes[i]
			e.CollectionID = c.ID
			e.Position = i
			if err := tx.Omit(clause.Associations).Save(e).Error; err != nil {
				return err
			}
			for j := range e.Elements {
				el := &e.Elements[j]
				el.EchoID = e.ID
				el.Position = j
				if err := tx.Save(el).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// fileCollectionRepository 基于 JSON 定义文件的只读实现，文件变化后通过 Reload 刷新
type fileCollectionRepository struct {
	path string

	mu   sync.RWMutex
	byID map[string]*model.Collection
	list []*model.Collection
}

// FileCollectionRepository 额外暴露 Reload
type FileCollectionRepository interface {
	CollectionRepository
	Reload() error
	Path() string
}

// NewFileCollectionRepository 读取定义文件
func NewFileCollectionRepository(path string) (FileCollectionRepository, error) {
	r := &fileCollectionRepository{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *fileCollectionRepository) Path() string { return r.path }

// Reload 重新读取文件；失败时保留旧数据
func (r *fileCollectionRepository) Reload() error {
	cols, err := model.LoadDefinitionsFile(r.path)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.Collection, len(cols))
	list := make([]*model.Collection, 0, len(cols))
	for i := range cols {
		c := &cols[i]
		byID[c.ID] = c
		list = append(list, c)
	}
	r.mu.Lock()
	r.byID, r.list = byID, list
	r.mu.Unlock()
	return nil
}

func (r *fileCollectionRepository) GetByID(_ context.Context, id string) (*model.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id], nil
}

func (r *fileCollectionRepository) List(_ context.Context) ([]*model.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*model.Collection(nil), r.list...), nil
}

func (r *fileCollectionRepository) Save(context.Context, *model.Collection) error {
	return errors.New("definitions file is read-only")
}
