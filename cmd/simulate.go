package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"echoes/core/echo"
	"echoes/core/player"
	"echoes/model"

	"github.com/spf13/cobra"
)

var (
	simDefinitions string
	simTrajectory  string
	simCollection  string
	simPace        bool
	simMediaLength time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "按轨迹回放位置并打印回声状态",
	Long: `读取 collection 定义和一条位置轨迹，逐点推送给回声运行时，
打印每一步触发、停止以及穿越边界的位置。媒体以静音占位，不访问网络。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defsPath := simDefinitions
		if defsPath == "" {
			defsPath = cfg.DefinitionsFile
		}
		if defsPath == "" {
			return errors.New("--definitions or DEFINITIONS_FILE is required")
		}
		collections, err := model.LoadDefinitionsFile(defsPath)
		if err != nil {
			return err
		}
		c, err := pickCollection(collections, simCollection)
		if err != nil {
			return err
		}
		updates, err := readTrajectory(simTrajectory)
		if err != nil {
			return err
		}
		return simulate(cmd.Context(), cmd.OutOrStdout(), c, updates, simulation{
			pace:        simPace,
			mediaLength: simMediaLength,
		})
	},
}

type simulation struct {
	pace        bool
	mediaLength time.Duration
}

func pickCollection(collections []model.Collection, id string) (*model.Collection, error) {
	if len(collections) == 0 {
		return nil, errors.New("no collections defined")
	}
	if id == "" {
		return &collections[0], nil
	}
	for i := range collections {
		if collections[i].ID == id {
			return &collections[i], nil
		}
	}
	return nil, fmt.Errorf("collection %q not found", id)
}

// readTrajectory 读取 JSON 数组形式的位置序列，source 缺省为 location
func readTrajectory(path string) ([]echo.Update, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open trajectory: %w", err)
		}
		defer f.Close()
		r = f
	}
	return decodeTrajectory(r)
}

func decodeTrajectory(r io.Reader) ([]echo.Update, error) {
	var updates []echo.Update
	if err := json.NewDecoder(r).Decode(&updates); err != nil {
		return nil, fmt.Errorf("decode trajectory: %w", err)
	}
	for i := range updates {
		if updates[i].Source == "" {
			updates[i].Source = echo.SourceLocation
		}
	}
	return updates, nil
}

func simulate(ctx context.Context, out io.Writer, c *model.Collection, updates []echo.Update, sim simulation) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := c.Runtime()
	if err != nil {
		return err
	}
	if sim.mediaLength <= 0 {
		sim.mediaLength = time.Minute
	}

	loader := &player.Factory{Offline: true, Placeholder: sim.mediaLength}
	group := echo.NewGroup(ctx, rt, loader)
	defer group.UnloadAll()

	var mu sync.Mutex
	var events []echo.Event
	group.AddObserver(echo.ObserverFunc(func(e echo.Event) {
		if e.Kind == echo.EventGain {
			return
		}
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	fmt.Fprintf(out, "collection %s (%s), %d echoes, %d updates\n\n", c.ID, c.Title, len(c.Echoes), len(updates))

	var prev time.Time
	for i, u := range updates {
		if sim.pace && !prev.IsZero() && u.Time.After(prev) {
			select {
			case <-time.After(u.Time.Sub(prev)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		prev = u.Time

		res, err := group.Push(ctx, u)
		if err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
		fmt.Fprintf(out, "#%-3d %-8s %.6f,%.6f", i, u.Source, u.Coordinate.Lat, u.Coordinate.Lng)
		if len(res.Triggered) > 0 {
			fmt.Fprintf(out, "  triggered=%v", res.Triggered)
		}
		if len(res.Detriggered) > 0 {
			fmt.Fprintf(out, "  detriggered=%v", res.Detriggered)
		}
		for _, x := range res.Crossings {
			fmt.Fprintf(out, "  crossed %s at %.6f,%.6f", x.EchoID, x.Point.Lat, x.Point.Lng)
		}
		fmt.Fprintln(out)
	}

	mu.Lock()
	counts := make(map[echo.EventKind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	mu.Unlock()
	fmt.Fprintf(out, "\nevents: triggered=%d detriggered=%d loaded=%d load_failed=%d\n\n",
		counts[echo.EventTriggered], counts[echo.EventDetriggered], counts[echo.EventLoaded], counts[echo.EventLoadFailed])

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ECHO\tACTIVATION\tLOCATION\tLOADING\tTRIGGERED\tPLAYED")
	for _, s := range group.Snapshot() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", s.ID, s.Activation, s.Location, s.Loading, s.TriggeredCount, s.PlayedCount)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simDefinitions, "definitions", "f", "", "collection 定义文件，默认 DEFINITIONS_FILE")
	simulateCmd.Flags().StringVarP(&simTrajectory, "trajectory", "t", "-", "轨迹 JSON 文件，- 表示标准输入")
	simulateCmd.Flags().StringVarP(&simCollection, "collection", "c", "", "collection ID，默认第一个")
	simulateCmd.Flags().BoolVar(&simPace, "pace", false, "按轨迹时间间隔实时回放")
	simulateCmd.Flags().DurationVar(&simMediaLength, "media-length", time.Minute, "占位媒体时长")

	simulateCmd.Example = `  echoes simulate -f walks.json -t walk.json
  cat walk.json | echoes simulate -f walks.json -c harbour --pace`
}
