package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/client"
	"brand-asset-orchestrator/internal/config"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/watch"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *cliEnv, args []string) error
}

type cliEnv struct {
	cfg    config.Config
	client *client.Client
}

var commands = []command{
	{"generate", "generate -prompt TEXT [-brand ID] [-wait]", runGenerate},
	{"segment", "segment (-image FILE | -url URL) [-count N] [-brand ID] [-wait]", runSegment},
	{"check", "check (-image FILE | -url URL) [-brand ID] [-wait]", runCheck},
	{"canvas", "canvas -url URL -rect x1,y1,x2,y2 -text TEXT [-type TYPE] [-wait]", runCanvas},
	{"watch", "watch -kind KIND -job ID [-log ID]", runWatch},
	{"token", "token -user ID [-ttl 1h]", runToken},
}

func main() {
	global := flag.NewFlagSet("assetctl", flag.ExitOnError)
	baseURL := global.String("api", "", "API base URL (default API_BASE_URL)")
	user := global.String("user", os.Getenv("ASSETCTL_USER"), "user id for dev header auth")
	token := global.String("token", os.Getenv("ASSETCTL_TOKEN"), "bearer token")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	if global.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if *baseURL == "" {
		*baseURL = cfg.APIBaseURL
	}
	env := &cliEnv{
		cfg:    cfg,
		client: client.New(client.Options{BaseURL: *baseURL, Token: *token, UserID: *user}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name, args := global.Arg(0), global.Args()[1:]
	for _, c := range commands {
		if c.name == name {
			if err := c.run(ctx, env, args); err != nil {
				fail(err)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: assetctl [-api URL] [-user ID | -token JWT] <command> [flags]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if apperr.Is(err, apperr.KindTimeout) {
		os.Exit(3)
	}
	os.Exit(1)
}

func runGenerate(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	prompt := fs.String("prompt", "", "image prompt")
	brand := fs.String("brand", "", "brand id")
	wait := fs.Bool("wait", false, "watch the job until it resolves")
	_ = fs.Parse(args)

	acc, err := env.client.Submit(ctx, models.KindGeneration, map[string]string{"prompt": *prompt, "brand_id": *brand})
	return env.finish(ctx, acc, err, *wait)
}

func runSegment(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	file := fs.String("image", "", "local image to upload")
	url := fs.String("url", "", "already hosted image URL")
	count := fs.Int("count", 4, "number of segments (2-8)")
	brand := fs.String("brand", "", "brand id")
	wait := fs.Bool("wait", false, "watch the job until it resolves")
	_ = fs.Parse(args)

	fields := map[string]string{"segment_count": strconv.Itoa(*count), "brand_id": *brand}
	acc, err := env.submitImage(ctx, models.KindSegmentation, *file, *url, fields)
	return env.finish(ctx, acc, err, *wait)
}

func runCheck(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	file := fs.String("image", "", "local image to upload")
	url := fs.String("url", "", "already hosted image URL")
	brand := fs.String("brand", "", "brand id")
	wait := fs.Bool("wait", false, "watch the job until it resolves")
	_ = fs.Parse(args)

	acc, err := env.submitImage(ctx, models.KindQualityCheck, *file, *url, map[string]string{"brand_id": *brand})
	return env.finish(ctx, acc, err, *wait)
}

func runCanvas(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("canvas", flag.ExitOnError)
	url := fs.String("url", "", "original canvas image URL")
	rect := fs.String("rect", "", "rectangle as x1,y1,x2,y2")
	text := fs.String("text", "", "text layer content")
	layerType := fs.String("type", "text", "layer type")
	brand := fs.String("brand", "", "brand id")
	wait := fs.Bool("wait", false, "watch the job until it resolves")
	_ = fs.Parse(args)

	r, err := parseRectangle(*rect)
	if err != nil {
		return err
	}
	body := map[string]any{
		"text_layer":   *text,
		"original_url": *url,
		"rectangle":    r,
		"type":         *layerType,
		"brand_id":     *brand,
	}
	acc, err := env.client.Submit(ctx, models.KindCanvasLayer, body)
	return env.finish(ctx, acc, err, *wait)
}

func runWatch(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	kind := fs.String("kind", "", "job kind (generation, segmentation, quality-check, canvas-layer)")
	job := fs.String("job", "", "job id")
	logID := fs.String("log", "", "workflow log id")
	_ = fs.Parse(args)

	k, ok := models.ParseKind(*kind)
	if !ok {
		return apperr.Clientf("unknown job kind %q", *kind)
	}
	return env.watch(ctx, watch.Target{Kind: k, JobID: *job, LogID: *logID})
}

func runToken(_ context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id to embed as subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if env.cfg.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is not set")
	}
	tok, err := auth.Issue(env.cfg.AuthJWTSecret, *user, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func (e *cliEnv) submitImage(ctx context.Context, kind models.JobKind, file, url string, fields map[string]string) (client.Accepted, error) {
	if file == "" {
		body := map[string]any{"image_url": url}
		for k, v := range fields {
			if k == "segment_count" {
				n, _ := strconv.Atoi(v)
				body[k] = n
				continue
			}
			body[k] = v
		}
		return e.client.Submit(ctx, kind, body)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return client.Accepted{}, fmt.Errorf("read %s: %w", file, err)
	}
	return e.client.SubmitUpload(ctx, kind, filepath.Base(file), data, fields)
}

func (e *cliEnv) finish(ctx context.Context, acc client.Accepted, err error, wait bool) error {
	if err != nil {
		return err
	}
	printJSON(acc)
	if !wait {
		return nil
	}
	return e.watch(ctx, watch.Target{Kind: acc.Kind, JobID: acc.JobID, LogID: acc.LogID})
}

// watch reconciles from the client side by polling the API.
func (e *cliEnv) watch(ctx context.Context, t watch.Target) error {
	w, err := watch.New(watch.Options{
		Reader:   e.client,
		Interval: e.cfg.WatchPollInterval,
		MaxPolls: e.cfg.MaxPolls,
	})
	if err != nil {
		return err
	}
	res, err := w.Watch(ctx, t)
	if err != nil {
		return err
	}
	printJSON(res)
	switch res.State {
	case watch.StateFailed:
		return apperr.Worker(res.Message)
	case watch.StateTimedOut:
		return apperr.Timeout(res.Message)
	}
	return nil
}

func parseRectangle(s string) (models.Rectangle, error) {
	var r models.Rectangle
	parts := strings.Split(s, ",")
	if len(parts) != len(r) {
		return r, apperr.Clientf("rectangle must be x1,y1,x2,y2")
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return r, apperr.Clientf("rectangle must be x1,y1,x2,y2")
		}
		r[i] = n
	}
	return r, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
