// Command shellhist is a small CLI front end over the shellhist library, for
// manual testing and scripting: add, search, and inspect a namespace's
// history file without a full shell integration.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"shellhist"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	namespace, _ := shellhist.ResolveNamespace(os.LookupEnv)
	store := shellhist.Open(namespace)

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(store, os.Args[2:])
	case "search":
		err = runSearch(store, os.Args[2:])
	case "list":
		err = runList(store, os.Args[2:])
	case "clear":
		err = store.Clear()
	case "vacuum":
		err = store.Vacuum()
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("[shellhist-cli] command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: shellhist <add|search|list|clear|vacuum> [args]")
}

func runAdd(store *shellhist.Store, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cwd := fs.String("cwd", "", "working directory the command ran in")
	exit := fs.Int("exit", 0, "exit status")
	hasExit := fs.Bool("has-exit", false, "record the exit status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := fs.Arg(0)
	if text == "" {
		return fmt.Errorf("shellhist: add requires a command string")
	}

	item := shellhist.Item{Contents: text, Cwd: *cwd, PersistMode: shellhist.PersistDisk}
	if *hasExit {
		v := int32(*exit)
		item.ExitCode = &v
	}
	id, err := store.Add(item, false)
	if err != nil {
		return err
	}
	fmt.Println(shellhist.EncodeItemID(id))
	return nil
}

func runSearch(store *shellhist.Store, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	matchType := fs.String("type", "contains", "exact|contains|prefix|line-prefix|glob|glob-prefix|subsequence")
	max := fs.Int("max", 0, "maximum matches (0 = unbounded)")
	caseSensitive := fs.Bool("case-sensitive", false, "match case-sensitively")
	timeFormat := fs.String("time-format", "", "Go time layout to prefix each match with")
	if err := fs.Parse(args); err != nil {
		return err
	}
	term := fs.Arg(0)

	mt, err := parseMatchType(*matchType)
	if err != nil {
		return err
	}

	n, err := shellhist.Search(store, os.Stdout, shellhist.SearchOptions{
		Type:          mt,
		Term:          term,
		Max:           *max,
		CaseSensitive: *caseSensitive,
		TimeFormat:    *timeFormat,
	})
	if err != nil {
		return err
	}
	slog.Debug("[shellhist-cli] search complete", "matches", n)
	return nil
}

func runList(store *shellhist.Store, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 0, "maximum entries (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	size := store.Size()
	n := size
	if *limit > 0 && *limit < n {
		n = *limit
	}
	for i := 1; i <= n; i++ {
		it, ok := store.ItemAtIndex(i)
		if !ok {
			continue
		}
		fmt.Println(it.Contents)
	}
	return nil
}

func parseMatchType(s string) (shellhist.MatchType, error) {
	switch s {
	case "exact":
		return shellhist.Exact, nil
	case "contains":
		return shellhist.Contains, nil
	case "prefix":
		return shellhist.Prefix, nil
	case "line-prefix":
		return shellhist.LinePrefix, nil
	case "glob":
		return shellhist.ContainsGlob, nil
	case "glob-prefix":
		return shellhist.PrefixGlob, nil
	case "subsequence":
		return shellhist.ContainsSubsequence, nil
	default:
		return 0, fmt.Errorf("shellhist: unknown search type %q", s)
	}
}
