package main

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ericvolp12/track-relay/pkg/store"
	"github.com/go-resty/resty/v2"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:    "export",
		Usage:   "export a track-relay database, one file per device",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "relay-host",
			Usage:   "base url of the track-relay server (with protocol)",
			Value:   "http://localhost:3000",
			EnvVars: []string{"RELAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Usage:   "directory to write the export to",
			Value:   "./out/export-<timestamp>",
			EnvVars: []string{"OUTPUT_DIR"},
		},
		&cli.BoolFlag{
			Name:  "compress",
			Usage: "compress the resulting directory into a gzip file",
		},
	}

	app.Action = Export

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func Export(cctx *cli.Context) error {
	ctx := cctx.Context
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	outputDir := cctx.String("output-dir")
	if outputDir == "./out/export-<timestamp>" {
		outputDir = fmt.Sprintf("./out/export-%s", time.Now().UTC().Format("2006_01_02-15_04_05"))
	}
	outputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	client := resty.New().
		SetBaseURL(cctx.String("relay-host")).
		SetTimeout(5*time.Minute).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", fmt.Sprintf("track-relay.export/%s", cctx.App.Version))

	logger.Info("fetching database", "host", cctx.String("relay-host"))

	doc := store.NewDocument()
	resp, err := client.R().SetContext(ctx).SetResult(doc).Get("/api/data")
	if err != nil {
		return fmt.Errorf("failed to fetch database: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected response status: %s", resp.Status())
	}

	n, err := WriteExport(doc, outputDir, cctx.Bool("compress"))
	if err != nil {
		return err
	}

	logger.Info("export complete", "output", outputDir, "devices", n, "events", len(doc.Locations))

	return nil
}

// WriteExport writes one JSON file per device under outputDir, or into
// outputDir.tar.gz when compress is set. It returns the number of devices written.
func WriteExport(doc *store.Document, outputDir string, compress bool) (int, error) {
	var tarWriter *tar.Writer

	if compress {
		tarFile, err := os.Create(outputDir + ".tar.gz")
		if err != nil {
			return 0, fmt.Errorf("failed to create tar.gz file: %w", err)
		}
		defer tarFile.Close()

		gzipWriter := gzip.NewWriter(tarFile)
		defer gzipWriter.Close()

		tarWriter = tar.NewWriter(gzipWriter)
		defer tarWriter.Close()
	} else if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, dev := range doc.Devices {
		devJSON, err := json.MarshalIndent(dev, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("failed to marshal device %q: %w", dev.DeviceID, err)
		}

		name := fmt.Sprintf("devices/%s.json", url.PathEscape(dev.DeviceID))

		if compress {
			hdr := &tar.Header{
				Name:    name,
				Mode:    0600,
				Size:    int64(len(devJSON)),
				ModTime: time.Now(),
			}
			if err := tarWriter.WriteHeader(hdr); err != nil {
				return 0, fmt.Errorf("failed to write tar header: %w", err)
			}
			if _, err := tarWriter.Write(devJSON); err != nil {
				return 0, fmt.Errorf("failed to write device to tar file: %w", err)
			}
			continue
		}

		devPath := filepath.Join(outputDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(devPath), 0755); err != nil {
			return 0, fmt.Errorf("failed to create devices directory: %w", err)
		}
		if err := os.WriteFile(devPath, devJSON, 0644); err != nil {
			return 0, fmt.Errorf("failed to write device file: %w", err)
		}
	}

	return len(doc.Devices), nil
}
