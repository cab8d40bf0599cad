package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/testwarden/testwarden/internal/project"
	"github.com/testwarden/testwarden/internal/report"
)

// Result prints one stored run by id.
func Result(ctx context.Context, config *Config, id, format string, raw bool) error {
	if !report.ValidFormat(format) {
		return fmt.Errorf("unsupported format: %s (supported: %v)", format, report.SupportedFormats())
	}

	st, err := OpenStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	if raw {
		output, err := st.GetRaw(ctx, id)
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	}

	run, err := st.Get(ctx, id)
	if err != nil {
		return err
	}
	return report.FormatToWriter(run, report.FormatType(format), os.Stdout)
}

// Results lists the ids of all stored runs in insertion order.
func Results(ctx context.Context, config *Config) error {
	st, err := OpenStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.ListIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "No stored runs")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// LastFailed prints the last-failed index entry for a project, one test id
// per line.
func LastFailed(ctx context.Context, config *Config, projectPath string) error {
	st, err := OpenStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	abs, err := project.ResolveProjectPath(config.AllowedRoot, projectPath)
	if err != nil {
		return err
	}
	ids, err := st.GetLastFailed(ctx, abs)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "No recorded failures for %s\n", projectPath)
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
