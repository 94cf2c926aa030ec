package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var personImportCmd = &cobra.Command{
	Use:   "import <manifest.yaml>",
	Short: "Import missing person reports from a YAML manifest",
	Long: `Import missing person reports in bulk. Photo paths are resolved relative to
the manifest. Entries whose photo has no detectable face are reported and
skipped; nothing is stored for them.

Manifest format:
  reported_by: alice
  persons:
    - name: Anna Nováková
      age: 7
      gender: female
      description: red jacket, blue backpack
      guardian_email: parent@example.com
      photo: photos/anna.jpg

Examples:
  missing-persons person import reports.yaml
  missing-persons person import reports.yaml --concurrency 2`,
	Args: cobra.ExactArgs(1),
	RunE: runPersonImport,
}

func init() {
	personCmd.AddCommand(personImportCmd)

	personImportCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel workers")
}

// importManifest is the file format read by person import.
type importManifest struct {
	ReportedBy string        `yaml:"reported_by"`
	Persons    []importEntry `yaml:"persons"`
}

type importEntry struct {
	Name          string `yaml:"name"`
	Age           int    `yaml:"age"`
	Gender        string `yaml:"gender"`
	Description   string `yaml:"description"`
	GuardianEmail string `yaml:"guardian_email"`
	Photo         string `yaml:"photo"`
	ReportedBy    string `yaml:"reported_by"` // overrides the manifest default
}

func loadManifest(path string) (*importManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m importManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Persons) == 0 {
		return nil, errors.New("manifest lists no persons")
	}
	for i, p := range m.Persons {
		if p.Photo == "" {
			return nil, fmt.Errorf("entry %d (%s): photo is required", i+1, p.Name)
		}
		if p.ReportedBy == "" && m.ReportedBy == "" {
			return nil, fmt.Errorf("entry %d (%s): reported_by is required", i+1, p.Name)
		}
	}
	return &m, nil
}

// resolveReporters maps every username in the manifest to a user ID.
func resolveReporters(ctx context.Context, users database.UserStore, m *importManifest) (map[string]int64, error) {
	ids := make(map[string]int64)
	names := []string{m.ReportedBy}
	for _, p := range m.Persons {
		names = append(names, p.ReportedBy)
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := ids[name]; ok {
			continue
		}
		u, err := users.GetUserByUsername(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("look up user %s: %w", name, err)
		}
		if u == nil {
			return nil, fmt.Errorf("unknown user %s", name)
		}
		ids[name] = u.ID
	}
	return ids, nil
}

// importResult summarises one import run.
type importResult struct {
	Imported int
	Failed   []string
}

// importPersons reports every manifest entry through the service. The
// progress callback is invoked once per entry.
func importPersons(ctx context.Context, svc *reports.Service, m *importManifest, baseDir string,
	reporters map[string]int64, concurrency int, progress func()) importResult {
	var res importResult
	var mu sync.Mutex

	sem := make(chan struct{}, max(concurrency, 1))
	var wg sync.WaitGroup

	for i, entry := range m.Persons {
		wg.Add(1)
		go func(i int, e importEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := importOne(ctx, svc, e, baseDir, reporters[cmp.Or(e.ReportedBy, m.ReportedBy)])

			mu.Lock()
			if err != nil {
				res.Failed = append(res.Failed, fmt.Sprintf("  entry %d (%s): %v", i+1, e.Name, err))
			} else {
				res.Imported++
			}
			mu.Unlock()
			if progress != nil {
				progress()
			}
		}(i, entry)
	}

	wg.Wait()
	return res
}

func importOne(ctx context.Context, svc *reports.Service, e importEntry, baseDir string, reportedBy int64) error {
	photo := e.Photo
	if !filepath.IsAbs(photo) {
		photo = filepath.Join(baseDir, photo)
	}
	image, err := os.ReadFile(photo)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	_, err = svc.Report(ctx, reports.ReportInput{
		Name:          e.Name,
		Age:           e.Age,
		Gender:        e.Gender,
		Description:   e.Description,
		GuardianEmail: e.GuardianEmail,
		Image:         image,
		ReportedBy:    reportedBy,
	})
	return err
}

func runPersonImport(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	ctx := context.Background()

	manifest, err := loadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reporters, err := resolveReporters(ctx, a.backend.Users, manifest)
	if err != nil {
		return err
	}
	svc, err := a.reportsService(ctx, metrics.New())
	if err != nil {
		return err
	}

	fmt.Printf("Importing %d persons from %s\n\n", len(manifest.Persons), args[0])
	bar := progressbar.NewOptions(len(manifest.Persons),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("persons"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	res := importPersons(ctx, svc, manifest, filepath.Dir(args[0]), reporters, concurrency, func() {
		bar.Add(1)
	})
	fmt.Println()

	fmt.Printf("\nCompleted: %d persons imported, %d errors\n", res.Imported, len(res.Failed))
	for _, line := range res.Failed {
		fmt.Println(line)
	}
	return nil
}
