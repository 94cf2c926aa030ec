package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/kozaktomas/missing-persons/internal/constants"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage missing person reports",
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missing person reports",
	Long: `List missing person reports, newest first.

Examples:
  missing-persons person list
  missing-persons person list --name anna --include-found`,
	RunE: runPersonList,
}

var personReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Recompute face encodings with the configured encoder",
	Long: `Recompute the face encoding of every stored report from its photo using the
encoder selected by FACE_ENCODER. Run this after switching encoders, since
encodings from different models are not comparable.

Examples:
  missing-persons person reindex
  missing-persons person reindex --stale-only --concurrency 2`,
	RunE: runPersonReindex,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personListCmd)
	personCmd.AddCommand(personReindexCmd)

	personListCmd.Flags().String("name", "", "Filter by name (case and accent insensitive)")
	personListCmd.Flags().Bool("include-found", false, "Include persons already marked as found")
	personListCmd.Flags().Int("limit", constants.DefaultPageSize, "Maximum number of records")

	personReindexCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel workers")
	personReindexCmd.Flags().Bool("stale-only", false, "Only reindex persons encoded by a different encoder")
}

func runPersonList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	persons, err := a.backend.Persons.ListPersons(ctx, database.ListOptions{
		Name:         mustGetString(cmd, "name"),
		IncludeFound: mustGetBool(cmd, "include-found"),
		Limit:        mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}
	if len(persons) == 0 {
		fmt.Println("No persons found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGE\tGUARDIAN\tENCODER\tFOUND\tREPORTED")
	for _, p := range persons {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%t\t%s\n",
			p.ID, p.Name, p.Age, p.GuardianEmail, p.Encoder, p.Found, p.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

// allPersons pages through every stored report.
func allPersons(ctx context.Context, persons database.PersonReader) ([]database.MissingPerson, error) {
	var all []database.MissingPerson
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		page, err := persons.ListPersons(ctx, database.ListOptions{
			IncludeFound: true,
			Limit:        pageSize,
			Offset:       offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func runPersonReindex(cmd *cobra.Command, args []string) error {
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	staleOnly := mustGetBool(cmd, "stale-only")
	ctx := context.Background()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.reportsService(ctx, metrics.New())
	if err != nil {
		return err
	}

	persons, err := allPersons(ctx, a.backend.Persons)
	if err != nil {
		return fmt.Errorf("failed to list persons: %w", err)
	}

	toProcess, res := selectForReindex(ctx, svc, persons, staleOnly)
	if len(toProcess) == 0 && len(res.Failed) == 0 {
		fmt.Println("All encodings are up to date!")
		return nil
	}
	fmt.Printf("Persons to reindex: %d (skipping %d)\n\n", len(toProcess), res.Skipped)

	bar := progressbar.NewOptions(len(toProcess),
		progressbar.OptionSetDescription("Encoding faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("persons"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	reindexAll(ctx, svc, toProcess, concurrency, &res, func() { bar.Add(1) })
	fmt.Println()

	fmt.Printf("\nCompleted: %d persons reindexed, %d errors\n", res.Reindexed, len(res.Failed))
	for _, line := range res.Failed {
		fmt.Println(line)
	}
	return nil
}

type reindexResult struct {
	Reindexed int
	Skipped   int
	Failed    []string
}

// selectForReindex returns the persons that still need an encoding. With
// staleOnly the first person is reindexed up front: the remote encoder
// learns its model name from that answer, and the rest are compared
// against the full name.
func selectForReindex(ctx context.Context, svc *reports.Service, persons []database.MissingPerson, staleOnly bool) ([]database.MissingPerson, reindexResult) {
	var res reindexResult
	if !staleOnly || len(persons) == 0 {
		return persons, res
	}

	first := persons[0]
	if err := svc.Reindex(ctx, &first); err != nil {
		res.Failed = append(res.Failed, fmt.Sprintf("  #%d %s: %v", first.ID, first.Name, err))
	} else {
		res.Reindexed++
	}

	var todo []database.MissingPerson
	for _, p := range persons[1:] {
		if !svc.IsStale(&p) {
			res.Skipped++
			continue
		}
		todo = append(todo, p)
	}
	return todo, res
}

func reindexAll(ctx context.Context, svc *reports.Service, persons []database.MissingPerson, concurrency int,
	res *reindexResult, progress func()) {
	var mu sync.Mutex
	sem := make(chan struct{}, max(concurrency, 1))
	var wg sync.WaitGroup

	for _, person := range persons {
		wg.Add(1)
		go func(p database.MissingPerson) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := svc.Reindex(ctx, &p)

			mu.Lock()
			if err != nil {
				res.Failed = append(res.Failed, fmt.Sprintf("  #%d %s: %v", p.ID, p.Name, err))
			} else {
				res.Reindexed++
			}
			mu.Unlock()
			if progress != nil {
				progress()
			}
		}(person)
	}
	wg.Wait()
}
