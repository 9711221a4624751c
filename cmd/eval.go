package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/grantly-io/grantly/internal/jsonpath"
)

var (
	evalJWT  string
	evalSpew bool
)

var evalCmd = &cobra.Command{
	Use:   "eval QUERY [JSON...]",
	Short: "Evaluate a JsonPath filter query against JSON documents",
	Long: `The eval command parses a JsonPath filter query and matches it against one
or more JSON documents, given as arguments, on stdin, or extracted from the
payload of a JWT (without any signature verification).`,
	Example: `  # match a claim set given inline
  grantly eval "$[?(@.iss == 'https://auth.example.com/')]" '{"iss":"https://auth.example.com/"}'

  # match the (unverified) payload of a JWT
  grantly eval "[?('kafka' in @.aud)]" --jwt <token>

  # read the document from stdin
  echo '{"roles":["admin"]}' | grantly eval "[?('admin' in @.roles)]"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := jsonpath.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parsing query: %w", err)
		}

		docs, err := collectDocuments(args[1:])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no JSON documents given (pass them as arguments, via --jwt, or on stdin)")
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		for i, raw := range docs {
			doc, err := jsonpath.DecodeJSON(raw)
			if err != nil {
				return fmt.Errorf("document %d: %w", i+1, err)
			}
			if evalSpew {
				spew.Fdump(os.Stderr, doc)
			}

			verdict := red("no match")
			if query.Matches(doc) {
				verdict = green("match")
			}
			fmt.Printf("%s  %s\n", verdict, truncate(string(raw), 120))
		}
		return nil
	},
}

// collectDocuments gathers the documents to match: positional JSON
// arguments and the payload of --jwt. Stdin is read only when neither of
// those gave a document, and only if it is not a terminal.
func collectDocuments(args []string) ([][]byte, error) {
	docs := make([][]byte, 0, len(args)+1)
	for _, arg := range args {
		docs = append(docs, []byte(arg))
	}

	if evalJWT != "" {
		payload, err := jwtPayload(evalJWT)
		if err != nil {
			return nil, err
		}
		docs = append(docs, payload)
	}

	if len(docs) == 0 {
		stat, err := os.Stdin.Stat()
		if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			if len(raw) > 0 {
				docs = append(docs, raw)
			}
		}
	}
	return docs, nil
}

// jwtPayload decodes the claims of a JWT without verifying its signature.
func jwtPayload(raw string) ([]byte, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	return marshalClaims(claims)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	evalCmd.Flags().StringVar(&evalJWT, "jwt", "", "Match against the payload of this JWT (no signature verification)")
	evalCmd.Flags().BoolVar(&evalSpew, "spew", false, "Dump the decoded documents to stderr")
	rootCmd.AddCommand(evalCmd)
}
