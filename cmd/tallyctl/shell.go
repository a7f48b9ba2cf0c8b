package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"github.com/xtxerr/tally/internal/storage/shard"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive console over the storage directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.config(); err != nil {
				return err
			}

			sh := &shell{app: a, metrics: a.knownMetrics()}

			fmt.Fprintf(a.out, "tallyctl %s, type 'help' for commands, 'exit' to quit\n", Version)
			p := prompt.New(
				sh.execute,
				sh.complete,
				prompt.OptionPrefix("tally> "),
				prompt.OptionTitle("tallyctl"),
				prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
					return breakline && isExit(in)
				}),
			)
			p.Run()
			return nil
		},
	}
}

type shell struct {
	app     *app
	metrics []string
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit", `\q`:
		return true
	}
	return false
}

// execute runs one line as a tallyctl command line.
func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || isExit(line) {
		return
	}
	if args[0] == "shell" {
		fmt.Fprintln(s.app.out, "already in a shell")
		return
	}

	root := newRootCmd(s.app)
	root.SetArgs(args)
	root.SetOut(s.app.out)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}

	// Shards may have been deleted or the directory switched.
	s.metrics = s.app.knownMetrics()
}

var shellCommands = []prompt.Suggest{
	{Text: "query", Description: "List persisted samples of a metric"},
	{Text: "stats", Description: "Summarise persisted samples of a metric"},
	{Text: "export", Description: "Write samples to a Parquet file"},
	{Text: "read", Description: "Print an exported Parquet file"},
	{Text: "usage", Description: "Show shard count and size"},
	{Text: "cleanup", Description: "Delete expired shards"},
	{Text: "help", Description: "Show help"},
	{Text: "exit", Description: "Leave the shell"},
}

var filterFlagSuggestions = []prompt.Suggest{
	{Text: "--dim", Description: "key=value dimension filter"},
	{Text: "--start", Description: "inclusive start time"},
	{Text: "--end", Description: "inclusive end time"},
	{Text: "--limit", Description: "maximum samples"},
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	fields := strings.Fields(d.TextBeforeCursor())

	// First word: a command
	if len(fields) == 0 || (len(fields) == 1 && word != "") {
		return prompt.FilterHasPrefix(shellCommands, word, true)
	}

	switch fields[0] {
	case "query", "q", "stats", "export":
		if strings.HasPrefix(word, "-") {
			return prompt.FilterHasPrefix(filterFlagSuggestions, word, true)
		}
		out := make([]prompt.Suggest, len(s.metrics))
		for i, m := range s.metrics {
			out[i] = prompt.Suggest{Text: m}
		}
		return prompt.FilterHasPrefix(out, word, true)
	case "cleanup":
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "--dry-run", Description: "only report"},
			{Text: "--retention", Description: "retention days"},
		}, word, true)
	}

	return nil
}

// knownMetrics lists metric names found in the newest shards. Completion
// only, so errors yield no suggestions.
func (a *app) knownMetrics() []string {
	cfg, err := a.config()
	if err != nil {
		return nil
	}
	infos, err := shard.List(cfg.StorageDir)
	if err != nil {
		return nil
	}

	const scan = 20
	if len(infos) > scan {
		infos = infos[len(infos)-scan:]
	}

	seen := make(map[string]struct{})
	for _, info := range infos {
		sh, err := shard.Read(info.Path)
		if err != nil {
			continue
		}
		for name := range sh.Metrics {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
