// Command solve reads one captcha image and prints the fused answer
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/joho/godotenv"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/models"
	"github.com/foxxcyber/solvcaptcha/internal/pipeline"
	"github.com/foxxcyber/solvcaptcha/internal/services"
)

const (
	debugFile      = "debug_original.png"
	maxLocalListed = 5
)

var errUsage = errors.New("usage")

type options struct {
	image   string
	url     string
	timeout time.Duration
	debug   bool
	json    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.image, "i", "", "image file path")
	fs.StringVar(&opts.url, "u", "", "data:image URL")
	fs.DurationVar(&opts.timeout, "timeout", 3*time.Minute, "overall solve timeout")
	fs.BoolVar(&opts.debug, "debug", false, "log progress and save the decoded image to "+debugFile)
	fs.BoolVar(&opts.json, "json", false, "print the result as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if (opts.image == "") == (opts.url == "") {
		fmt.Fprintln(stderr, "exactly one of -i or -u is required")
		fs.Usage()
		return nil, errUsage
	}
	return opts, nil
}

// loadInput returns the raw image bytes and their declared encoding
func loadInput(opts *options) ([]byte, string, error) {
	if opts.image != "" {
		data, err := os.ReadFile(opts.image)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read image: %w", err)
		}
		return data, extensionEncoding(opts.image), nil
	}
	if !strings.HasPrefix(opts.url, "data:image") {
		return nil, "", errors.New("url must start with 'data:image'")
	}
	return services.ParseDataURL(opts.url)
}

// extensionEncoding maps a file extension to a supported encoding, or ""
// to let the content decide
func extensionEncoding(path string) string {
	switch enc := services.NormalizeEncoding(filepath.Ext(path)); enc {
	case services.EncodingPNG, services.EncodingJPEG, services.EncodingGIF, services.EncodingBMP, services.EncodingWebP:
		return enc
	}
	return ""
}

func saveDebug(data []byte, encoding string) error {
	img, err := services.DecodeImage(data, encoding)
	if err != nil {
		return err
	}
	return imaging.Save(img, debugFile)
}

// printReport writes the human readable summary: external answers, the
// first local candidates, then the recommendation
func printReport(w io.Writer, res *models.SolveResult) {
	var local, external []models.Candidate
	for _, c := range res.Candidates {
		if strings.HasPrefix(c.Source, models.LocalSourcePrefix) {
			local = append(local, c)
		} else {
			external = append(external, c)
		}
	}

	if len(res.Candidates) == 0 {
		fmt.Fprintln(w, "No results")
	} else {
		fmt.Fprintf(w, "All results (%d):\n", len(res.Candidates))
		if len(external) > 0 {
			fmt.Fprintln(w, "  External services:")
			for _, c := range external {
				fmt.Fprintf(w, "    %s: '%s'\n", c.Source, c.Text)
			}
		}
		if len(local) > 0 {
			fmt.Fprintln(w, "  Local OCR:")
			for i, c := range local {
				if i == maxLocalListed {
					fmt.Fprintf(w, "    ... and %d more\n", len(local)-maxLocalListed)
					break
				}
				fmt.Fprintf(w, "    %s: '%s'\n", c.Source, c.Text)
			}
		}
	}

	if !res.Solved() {
		fmt.Fprintln(w, "Recommendation: no reliable solution")
		return
	}
	fmt.Fprintf(w, "Recommendation: %q\n", res.Text())
	if res.Confidence > 0 {
		sources := res.Sources
		if len(sources) > 3 {
			sources = sources[:3]
		}
		fmt.Fprintf(w, "Confidence: %d%% | Sources: %s\n", res.Confidence, strings.Join(sources, ", "))
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	data, encoding, err := loadInput(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg := config.Load()
	creds, err := cfg.EnvCredentials()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	log.SetOutput(stderr)
	var events services.EventFunc
	if opts.debug {
		events = services.LogEvents
		if err := saveDebug(data, encoding); err != nil {
			log.Printf("Warning: debug save failed: %v", err)
		} else {
			log.Printf("Debug saved: %s", debugFile)
		}
	} else {
		log.SetOutput(io.Discard)
	}

	p := pipeline.Build(cfg, events)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	res, err := p.Solve(ctx, services.SolveRequest{
		Image:       data,
		Encoding:    encoding,
		Credentials: creds,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		printReport(stdout, res)
	}

	if !res.Solved() {
		return 1
	}
	return 0
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
