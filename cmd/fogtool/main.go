package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sightline.ai/internal/geom"
	"sightline.ai/internal/persistence/fogstore"
	persistlog "sightline.ai/internal/persistence/log"
	"sightline.ai/internal/persistence/snapshot"
	"sightline.ai/internal/vision"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "encode":
		err = encodeCmd(os.Args[2:])
	case "decode":
		err = decodeCmd(os.Args[2:])
	case "test":
		err = testCmd(os.Args[2:])
	case "scenes":
		err = scenesCmd(os.Args[2:])
	case "export":
		err = exportCmd(os.Args[2:])
	case "import":
		err = importCmd(os.Args[2:])
	case "events":
		err = eventsCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fogtool:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fogtool encode|decode|test|scenes|export|import|events [flags]")
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func encodeCmd(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	in := fs.String("in", "-", "JSON rings in real coordinates: [[{\"x\":0,\"y\":0},...],...]")
	_ = fs.Parse(args)

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	return encode(r, os.Stdout)
}

func encode(r io.Reader, w io.Writer) error {
	var rings [][]geom.Vec
	if err := json.NewDecoder(r).Decode(&rings); err != nil {
		return fmt.Errorf("decode rings: %w", err)
	}
	paths := make([]geom.Path, 0, len(rings))
	for i, ring := range rings {
		p, err := geom.PathFromVecs(ring)
		if err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	_, err := fmt.Fprintln(w, vision.NewSet(paths).String())
	return err
}

func decodeCmd(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "-", "file holding VLQ text")
	_ = fs.Parse(args)

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	return decode(r, os.Stdout)
}

type decoded struct {
	Polygons int          `json:"polygons"`
	Area     float64      `json:"area"`
	Rings    [][]geom.Vec `json:"rings"`
}

func decode(r io.Reader, w io.Writer) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	set, err := vision.ParseSet(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	out := decoded{Polygons: set.Len(), Area: set.Area(), Rings: [][]geom.Vec{}}
	for _, p := range set.Paths() {
		out.Rings = append(out.Rings, p.Vecs())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func testCmd(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	in := fs.String("in", "-", "file holding VLQ text")
	x := fs.Float64("x", 0, "probe x")
	y := fs.Float64("y", 0, "probe y")
	radius := fs.Float64("r", 0, "probe radius")
	tolerance := fs.Float64("tolerance", 0, "minimum overlap area for a straddling probe")
	sides := fs.Int("disc_sides", vision.DefaultDiscSides, "polygon sides used to approximate the probe disc")
	_ = fs.Parse(args)

	r, err := openInput(*in)
	if err != nil {
		return err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	set, err := vision.ParseSet(strings.TrimSpace(string(b)), vision.WithDiscSides(*sides))
	if err != nil {
		return err
	}
	visible := set.TestVisibility(vision.Probe{Origin: geom.Vec{X: *x, Y: *y}, Radius: *radius}, *tolerance)
	fmt.Println(visible)
	return nil
}

func openStore(path string) (*fogstore.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("missing -db")
	}
	return fogstore.Open(path, fogstore.Options{})
}

func scenesCmd(args []string) error {
	fs := flag.NewFlagSet("scenes", flag.ExitOnError)
	db := fs.String("db", "./data/fog.sqlite", "fog store path")
	_ = fs.Parse(args)

	store, err := openStore(*db)
	if err != nil {
		return err
	}
	defer store.Close()
	scenes, err := store.Scenes(context.Background())
	if err != nil {
		return err
	}
	for _, s := range scenes {
		fmt.Println(s)
	}
	return nil
}

func exportCmd(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	db := fs.String("db", "./data/fog.sqlite", "fog store path")
	scene := fs.String("scene", "", "scene id")
	out := fs.String("out", "", "snapshot path (default: <scene>.fog.zst)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*scene) == "" {
		return fmt.Errorf("missing -scene")
	}
	store, err := openStore(*db)
	if err != nil {
		return err
	}
	defer store.Close()
	rec, ok, err := store.Load(context.Background(), *scene)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no fog stored for scene %s", *scene)
	}
	path := *out
	if path == "" {
		path = snapshot.FileName(*scene)
	}
	snap := snapshot.FogSnapshotV1{
		Header: snapshot.Header{
			SceneID:   rec.SceneID,
			SessionID: rec.SessionID,
			RequestID: rec.RequestID,
			SavedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		},
		Explored: rec.Explored,
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func importCmd(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	db := fs.String("db", "./data/fog.sqlite", "fog store path")
	in := fs.String("in", "", "snapshot path")
	scene := fs.String("scene", "", "scene id (default: the snapshot's)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		return fmt.Errorf("missing -in")
	}
	snap, err := snapshot.ReadSnapshot(*in)
	if err != nil {
		return err
	}
	if _, err := vision.ParseSet(snap.Explored); err != nil {
		return fmt.Errorf("snapshot explored: %w", err)
	}
	id := snap.Header.SceneID
	if *scene != "" {
		id = *scene
	}
	store, err := openStore(*db)
	if err != nil {
		return err
	}
	defer store.Close()
	// A distinct session id makes the import replace whatever is stored.
	err = store.Save(fogstore.Record{
		SceneID:   id,
		SessionID: "import:" + snap.Header.SavedAt,
		RequestID: snap.Header.RequestID,
		Explored:  snap.Explored,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.Flush(ctx)
}

func eventsCmd(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	in := fs.String("in", "", "event log file (events-<hour>.jsonl.zst)")
	scene := fs.String("scene", "", "only this scene")
	channel := fs.String("channel", "", "only this channel (vision|explored)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		return fmt.Errorf("missing -in")
	}
	entries, err := persistlog.ReadEvents(*in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range filterEvents(entries, *scene, *channel) {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func filterEvents(entries []persistlog.EventEntry, scene, channel string) []persistlog.EventEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if scene != "" && e.Scene != scene {
			continue
		}
		if channel != "" && e.Channel != channel {
			continue
		}
		out = append(out, e)
	}
	return out
}
