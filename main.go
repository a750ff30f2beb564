package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The report already lists what went wrong.
		if errors.Is(err, errItemsFailed) || errors.Is(err, errVerifyMismatch) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
