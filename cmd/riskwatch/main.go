// riskwatch classifies agent commands before execution and blocks dangerous
// ones and dangerous sequences.
package main

import "github.com/ppiankov/riskwatch/internal/cli"

func main() {
	cli.Execute()
}
