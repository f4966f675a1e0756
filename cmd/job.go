package cmd

import (
	"context"
	"fmt"
	"rsynco/internal/model"
	"rsynco/internal/scheduler"
	"rsynco/internal/syncer/archive"
	"rsynco/internal/util"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type jobFlags struct {
	host     string
	user     string
	remote   string
	local    string
	key      string
	port     int
	timeout  int
	bwlimit  int
	compress bool
	excludes []string
	cron     string
	delete   bool
	progress bool
}

func (f *jobFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.host, "host", "", "remote host")
	fs.StringVar(&f.user, "user", "", "ssh user")
	fs.StringVar(&f.remote, "remote", "", "remote directory")
	fs.StringVar(&f.local, "local", "", "local parent directory")
	fs.StringVar(&f.key, "key", "", "ssh private key (default: ssh agent and ~/.ssh/id_*)")
	fs.IntVar(&f.port, "port", model.DefaultSSHPort, "ssh port")
	fs.IntVar(&f.timeout, "timeout", model.DefaultSSHTimeout, "ssh connect timeout in seconds")
	fs.IntVar(&f.bwlimit, "bwlimit", 0, "bandwidth limit in KB/s, 0 for none")
	fs.BoolVar(&f.compress, "compress", false, "keep the synced copy as a .tar.gz archive")
	fs.StringSliceVar(&f.excludes, "exclude", nil, "rsync exclude pattern (repeatable)")
	fs.StringVar(&f.cron, "cron", "", `cron schedule, e.g. "0 3 * * *" or "@daily"`)
	fs.BoolVar(&f.delete, "delete", true, "delete local files that are gone remotely")
	fs.BoolVar(&f.progress, "progress", true, "track transfer progress")
}

// apply copies the flags given on the command line into cfg.
func (f *jobFlags) apply(cmd *cobra.Command, cfg *model.JobConfig) {
	fs := cmd.Flags()
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}

	set("host", func() { cfg.Host = f.host })
	set("user", func() { cfg.User = f.user })
	set("remote", func() { cfg.RemotePath = f.remote })
	set("local", func() { cfg.LocalPath = f.local })
	set("key", func() { cfg.SSHKeyPath = f.key })
	set("port", func() { cfg.SSHPort = f.port })
	set("timeout", func() { cfg.SSHTimeout = f.timeout })
	set("bwlimit", func() { cfg.BandwidthLimit = f.bwlimit })
	set("compress", func() { cfg.Compress = f.compress })
	set("exclude", func() { cfg.Excludes = f.excludes })
	set("cron", func() { cfg.Cron = f.cron })
	set("delete", func() { cfg.DeleteExtraneous = f.delete })
	set("progress", func() { cfg.TrackProgress = f.progress })
}

var (
	addFlags    jobFlags
	editFlags   jobFlags
	removeFiles bool
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		jobs, err := e.jobs.GetAll()
		if err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("no jobs configured, use 'rsynco job add' to add one")
			return nil
		}

		now := time.Now()
		fmt.Printf("%-20s %-30s %-10s %-16s %-18s %s\n",
			"NAME", "SOURCE", "STATUS", "LAST SYNC", "NEXT RUN", "STORED")
		for _, job := range jobs {
			fmt.Printf("%-20s %-30s %-10s %-16s %-18s %s\n",
				job.Name,
				truncate(fmt.Sprintf("%s:%s", job.Host, job.RemotePath), 30),
				outcomeLabel(job.LastOutcome),
				sinceLabel(job.LastSyncAt),
				nextRunLabel(job, now),
				storedLabel(job.CompressionState))
		}

		return nil
	},
}

var showDepth int

var jobShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a job in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		job, err := e.jobs.Get(args[0])
		if err != nil {
			return err
		}

		key := job.SSHKeyPath
		if key == "" {
			key = "(agent / default keys)"
		}

		rows := [][2]string{
			{"name", job.Name},
			{"source", fmt.Sprintf("%s@%s:%s", job.User, job.Host, job.RemotePath)},
			{"destination", job.Destination()},
			{"ssh", fmt.Sprintf("port %d, timeout %ds, key %s", job.SSHPort, job.SSHTimeout, key)},
			{"schedule", orDash(job.Cron)},
			{"next run", nextRunLabel(job, time.Now())},
			{"compress", fmt.Sprintf("%t (%s)", job.Compress, storedLabel(job.CompressionState))},
			{"delete", fmt.Sprintf("%t", job.DeleteExtraneous)},
			{"progress", fmt.Sprintf("%t", job.TrackProgress)},
			{"excludes", orDash(strings.Join(job.Excludes, ", "))},
			{"last run", sinceLabel(job.LastRunAt)},
			{"last sync", sinceLabel(job.LastSyncAt)},
			{"last outcome", outcomeLabel(job.LastOutcome)},
		}
		if job.BandwidthLimit > 0 {
			rows = append(rows, [2]string{"bwlimit", fmt.Sprintf("%d KB/s", job.BandwidthLimit)})
		}
		if job.LastOutcome == model.OutcomeSuccess {
			rows = append(rows,
				[2]string{"transferred", humanize.Bytes(uint64(max(job.LastBytes, 0)))},
				[2]string{"took", job.LastDuration.Round(time.Second).String()})
		}
		if job.LastFailure != "" {
			rows = append(rows, [2]string{"failure", string(job.LastFailure)})
		}
		if job.ArchiveOutcome != "" {
			rows = append(rows, [2]string{"archive", string(job.ArchiveOutcome)})
		}
		if job.LastError != "" {
			rows = append(rows, [2]string{"error", job.LastError})
		}

		for _, row := range rows {
			fmt.Printf("%-13s %s\n", row[0]+":", row[1])
		}

		if showDepth < 0 {
			return nil
		}

		tree, err := contentTree(cmd.Context(), e.archiver, job, showDepth)
		switch {
		case err != nil:
			fmt.Printf("%-13s (unreadable: %v)\n", "contents:", err)
		case len(tree) == 0:
			fmt.Printf("%-13s (nothing synced yet)\n", "contents:")
		default:
			fmt.Println("contents:")
			for _, line := range tree {
				fmt.Println("  " + line)
			}
		}

		return nil
	},
}

// contentTree renders what is stored locally for job, reading the archive
// listing when the data is compressed.
func contentTree(ctx context.Context, archiver *archive.Archiver, job model.Job, depth int) ([]string, error) {
	dest := job.Destination()

	var paths []string
	var err error
	switch archive.State(dest) {
	case model.StateCompressed:
		paths, err = archiver.List(ctx, dest)
	case model.StateUncompressed:
		paths, err = util.ListDir(dest, depth)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return util.Tree(paths, depth), nil
}

var jobAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a new job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		jobCfg := model.JobConfig{
			Name:             args[0],
			DeleteExtraneous: true,
			TrackProgress:    true,
		}
		addFlags.apply(cmd, &jobCfg)

		job, err := e.catalog.Add(jobCfg)
		if err != nil {
			return err
		}

		fmt.Printf("job added: %s -> %s\n", job.Name, job.Destination())
		return nil
	},
}

var jobEditCmd = &cobra.Command{
	Use:   "edit [name]",
	Short: "Change settings of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		job, err := e.catalog.Edit(context.Background(), args[0], func(jobCfg *model.JobConfig) {
			editFlags.apply(cmd, jobCfg)
		})
		if err != nil {
			return err
		}

		fmt.Printf("job %s updated\n", job.Name)
		return nil
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		if err := e.catalog.Remove(context.Background(), args[0], removeFiles); err != nil {
			return err
		}

		if removeFiles {
			fmt.Printf("job %s and its files removed\n", args[0])
		} else {
			fmt.Printf("job %s removed\n", args[0])
		}
		return nil
	},
}

var jobCompressCmd = &cobra.Command{
	Use:   "compress [name]",
	Short: "Pack the synced directory of a job into its archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		state, err := e.catalog.Compress(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("job %s: %s\n", args[0], storedLabel(state))
		return nil
	},
}

var jobExtractCmd = &cobra.Command{
	Use:   "extract [name]",
	Short: "Unpack the archive of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		state, err := e.catalog.Extract(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("job %s: %s\n", args[0], storedLabel(state))
		return nil
	},
}

func outcomeLabel(outcome model.Outcome) string {
	if outcome == "" {
		return "never run"
	}

	return strings.ToLower(string(outcome))
}

func sinceLabel(t *time.Time) string {
	if t == nil {
		return "never"
	}

	return humanize.Time(*t)
}

func nextRunLabel(job model.Job, now time.Time) string {
	next, ok, err := scheduler.NextRun(job, now)
	switch {
	case err != nil:
		return "invalid schedule"
	case !ok:
		return "manual"
	case !next.After(now):
		return "due"
	}

	return next.Format("2006-01-02 15:04")
}

func storedLabel(state model.CompressionState) string {
	switch state {
	case model.StateCompressed:
		return "archive" + archive.Extension
	case model.StateUncompressed:
		return "directory"
	}

	return "nothing yet"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-3] + "..."
}

func init() {
	addFlags.bind(jobAddCmd)
	for _, name := range []string{"host", "user", "remote", "local"} {
		_ = jobAddCmd.MarkFlagRequired(name)
	}
	editFlags.bind(jobEditCmd)
	jobShowCmd.Flags().IntVar(&showDepth, "depth", 2, "levels of the synced tree to show, negative to hide it")
	jobRemoveCmd.Flags().BoolVar(&removeFiles, "remove-files", false, "also delete the synced directory and archive")

	jobCmd.AddCommand(jobListCmd, jobShowCmd, jobAddCmd, jobEditCmd, jobRemoveCmd, jobCompressCmd, jobExtractCmd)
	rootCmd.AddCommand(jobCmd)
}
