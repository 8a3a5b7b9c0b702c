// jnisig explains JNI descriptors: handy when writing GetMethodID
// calls or RegisterNative tables by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/daimatz/gojni/pkg/signature"
)

var rootCmd = &cobra.Command{
	Use:   "jnisig",
	Short: "Parse and explain JNI type and method descriptors",
}

var methodCmd = &cobra.Command{
	Use:   "method <descriptor>",
	Short: "Explain a method descriptor, e.g. (ILjava/lang/String;)V",
	Args:  cobra.ExactArgs(1),
	RunE:  runMethod,
}

var typeCmd = &cobra.Command{
	Use:   "type <descriptor>",
	Short: "Explain a type descriptor, e.g. [Ljava/lang/String;",
	Args:  cobra.ExactArgs(1),
	RunE:  runType,
}

func init() {
	rootCmd.AddCommand(methodCmd)
	rootCmd.AddCommand(typeCmd)
}

func runMethod(cmd *cobra.Command, args []string) error {
	m, err := signature.ParseMethod(args[0])
	if err != nil {
		return fmt.Errorf("parsing method descriptor: %w", err)
	}
	fmt.Printf("parameters: %d\n", len(m.Params))
	for i, p := range m.Params {
		fmt.Printf("  %d: %s (%s)\n", i, p, p.Descriptor())
	}
	fmt.Printf("returns: %s (%s)\n", m.Return, m.Return.Descriptor())
	return nil
}

func runType(cmd *cobra.Command, args []string) error {
	t, err := signature.ParseType(args[0])
	if err != nil {
		return fmt.Errorf("parsing type descriptor: %w", err)
	}
	fmt.Printf("%s (%s)\n", t, t.Descriptor())
	if t.Kind == signature.Array {
		depth := 0
		elem := t
		for elem.Kind == signature.Array {
			depth++
			elem = *elem.Elem
		}
		fmt.Printf("array depth %d of %s\n", depth, elem)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
