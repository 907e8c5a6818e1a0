// Command streakctl is the operator CLI over the streakd HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

func main() {
	var (
		apiBase = flag.String("api-base", "", "streakd base URL (env: ST_API_BASE)")
		token   = flag.String("token", "", "bearer token (env: ST_TOKEN)")
	)
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx := Context{
		APIBase: firstNonEmpty(*apiBase, os.Getenv("ST_API_BASE"), "http://localhost:8080"),
		Token:   firstNonEmpty(*token, os.Getenv("ST_TOKEN")),
		Out:     os.Stdout,
	}
	if err := Dispatch(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
