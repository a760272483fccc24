package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"
	"github.com/mna/oxalis/lang/scanner"
	"github.com/mna/oxalis/lang/token"
)

// Tokenize runs the scanner phase only and prints the tokens of each file.
func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	var firstErr error
	for _, file := range args {
		b, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(stdio.Stderr, "%s\n", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var s scanner.Scanner
		s.Init(b)
		for {
			tv := s.Scan()
			fmt.Fprintf(stdio.Stdout, "%s:%d: %s", file, tv.Line, tv.Token)
			if tv.Raw != "" && tv.Token != token.EOF {
				fmt.Fprintf(stdio.Stdout, " %s", tv.Raw)
			}
			fmt.Fprintln(stdio.Stdout)
			if tv.Token == token.EOF {
				break
			}
		}
	}
	return firstErr
}
