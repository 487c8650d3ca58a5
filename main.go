// The main package for the ludostock executable.
package main

import (
	"github.com/JakeFAU/ludostock-crawler/cmd"
)

func main() {
	cmd.Execute()
}
