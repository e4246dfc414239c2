// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/boardmod/cmd/boardmod"

func main() {
	cmd.Execute()
}
