package cmd

import (
	"fmt"
	"io"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const banner = `
                      _      _     _      _     _
   ___ _ __ ___  __| |___| |__ (_) ___| | __| |
  / __| '__/ _ \/ _` + "`" + ` / __| '_ \| |/ _ \ |/ _` + "`" + ` |
 | (__| | |  __/ (_| \__ \ | | | |  __/ | (_| |
  \___|_|  \___|\__,_|___/_| |_|_|\___|_|\__,_|

`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Credential Protection Client - Version %s\x1b[0m\n\n", Version)
}
