package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustFlag reads a flag registered in init(). A lookup error means the flag
// name is misspelled, so it panics.
func mustFlag[T any](get func(name string) (T, error), name string) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(cmd.Flags().GetBool, name)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(cmd.Flags().GetInt, name)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(cmd.Flags().GetString, name)
}
