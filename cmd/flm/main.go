// flm: a local NPU inference runtime. Serves an Ollama-style and an
// OpenAI-style HTTP API, or a one-off interactive REPL, over models
// catalogued in model_list.json and installed under FLM_MODEL_PATH.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "pull":
		err = pullCommand(os.Args[2:])
	case "rm", "remove":
		err = removeCommand(os.Args[2:])
	case "list", "ls":
		err = listCommand(os.Args[2:])
	case "bench":
		err = benchCommand(os.Args[2:])
	case "version":
		err = versionCommand(os.Args[2:])
	case "port":
		err = portCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "flm: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "flm: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `flm: a local NPU inference runtime

Usage:
  flm run <model>       load a model and start an interactive chat REPL
  flm serve             start the HTTP API (Ollama-style + OpenAI-style)
  flm pull <model>      download a model's weights and config
  flm rm <model>        remove an installed model
  flm list              list installed and available models
  flm bench <model>     run the prefill/decode benchmark sweep
  flm version           print the runtime version
  flm port              print the port the most recent "flm serve" bound

Environment:
  FLM_CONFIG_PATH   absolute path to model_list.json (else searched next
                    to the executable, then the current directory)
  FLM_MODEL_PATH    directory models are installed under
  FLM_SERVE_PORT    default HTTP port for "serve" (hard default 52625)
`)
}
