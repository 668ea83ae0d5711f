// Command classify runs one message through the intent classifier and
// prints the result, for tuning prompts against real models.
//
//	go run ./cmd/classify -locations "North,South,River" -categories "Steer,Cow" "move 40 steers from North to River"
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/fieldhand/cmd/mainconfig"
	"github.com/wolfman30/fieldhand/internal/app/bootstrap"
	appconfig "github.com/wolfman30/fieldhand/internal/config"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	locations := flag.String("locations", "North,South", "comma-separated location names")
	categories := flag.String("categories", "Steer,Cow,Calf", "comma-separated livestock categories")
	timeout := flag.Duration("timeout", 30*time.Second, "classification timeout")
	flag.Parse()

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		read, err := readStdin(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		text = read
	}
	if text == "" {
		log.Fatal("usage: classify [flags] <message text>")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	classifier, err := bootstrap.BuildClassifier(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		log.Fatalf("build classifier: %v", err)
	}
	defer func() { _ = classifier.Close() }()

	start := time.Now()
	res, err := classifier.Classify(ctx, intent.Request{
		Text:       text,
		Locations:  splitList(*locations),
		Categories: splitList(*categories),
		UserID:     "cli",
	})
	if err != nil {
		log.Fatalf("classify: %v", err)
	}
	fmt.Printf("classified in %v\n", time.Since(start).Round(time.Millisecond))
	out, err := render(res)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	fmt.Println(out)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readStdin(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), scanner.Err()
}

func render(res intent.Result) (string, error) {
	switch {
	case res.Error != "":
		return "classifier problem: " + res.Error, nil
	case res.None():
		return "no intent", nil
	}
	payload, err := json.MarshalIndent(res.Intent.Payload, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("intent: %s (%s)\n%s", res.Intent.Tag, res.Intent.Tag.Route(), payload), nil
}
