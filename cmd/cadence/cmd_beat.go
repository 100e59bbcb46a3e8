package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cadence/internal/beat"

	"github.com/spf13/cobra"
)

var decodeJSON bool

var decodeCmd = &cobra.Command{
	Use:   "decode [beat]",
	Short: "Decode a beat stream into its token listing",
	Long: `Decodes a raw beat stream and prints one token per line, or a JSON
array with --json. The stream may be passed as an argument or on stdin.

Example:
  cadence decode 'PhomeT10EsearchT30___2'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

var encodeCmd = &cobra.Command{
	Use:   "encode [file]",
	Short: "Encode a token JSON array into a beat stream",
	Long: `Reads a JSON array of tokens (the form printed by decode --json) from
the given file or stdin and prints the encoded beat stream.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncode,
}

// tokenJSON is the token form exchanged by decode --json and encode.
type tokenJSON struct {
	Kind   string `json:"kind"`
	Label  string `json:"label,omitempty"`
	Ticks  int64  `json:"ticks,omitempty"`
	Target string `json:"target,omitempty"`
}

// configGrammar builds the validated token grammar selected by config.
func configGrammar() (beat.Grammar, error) {
	g := beat.Grammar{
		Page:      cfg.Grammar.GetPage(),
		Element:   cfg.Grammar.GetElement(),
		TimeGap:   cfg.Grammar.GetTimeGap(),
		RepeatGap: cfg.Grammar.GetRepeatGap(),
		TabSwitch: cfg.Grammar.GetTabSwitch(),
		TickMs:    cfg.Grammar.GetTickMs(),
	}
	if err := g.Validate(); err != nil {
		return beat.Grammar{}, fmt.Errorf("grammar: %w", err)
	}
	return g, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	var raw string
	if len(args) == 1 {
		raw = args[0]
	} else {
		in, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		raw = string(in)
	}

	g, err := configGrammar()
	if err != nil {
		return err
	}
	stream, err := beat.Decode(strings.TrimSpace(raw), g)
	if err != nil {
		return err
	}

	if decodeJSON {
		tokens := make([]tokenJSON, 0, len(stream))
		for _, tok := range stream {
			tokens = append(tokens, tokenJSON{
				Kind:   tok.Kind.String(),
				Label:  tok.Label,
				Ticks:  tok.Ticks,
				Target: tok.Target,
			})
		}
		return printJSON(tokens)
	}

	for _, tok := range stream {
		fmt.Println(tok.String())
	}
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}

	var tokens []tokenJSON
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return fmt.Errorf("parsing token JSON: %w", err)
	}

	stream := make(beat.Stream, 0, len(tokens))
	for i, tok := range tokens {
		parsed, err := tokenFromJSON(tok)
		if err != nil {
			return fmt.Errorf("token %d: %w", i, err)
		}
		stream = append(stream, parsed)
	}

	g, err := configGrammar()
	if err != nil {
		return err
	}
	fmt.Println(beat.Encode(stream, g))
	return nil
}

func tokenFromJSON(tok tokenJSON) (beat.Token, error) {
	switch tok.Kind {
	case beat.KindPage.String():
		return beat.NewPage(tok.Label), nil
	case beat.KindElement.String():
		return beat.NewElement(tok.Label), nil
	case beat.KindTimeGap.String():
		return beat.NewTimeGap(tok.Ticks), nil
	case beat.KindRepeatGap.String():
		return beat.NewRepeatGap(tok.Ticks), nil
	case beat.KindTabSwitch.String():
		return beat.NewTabSwitch(tok.Target), nil
	}
	return beat.Token{}, fmt.Errorf("unknown token kind %q", tok.Kind)
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print tokens as a JSON array")

	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
}
