// Command identitygate runs the identity and access service.
package main

import (
	"github.com/identitygate/identitygate/cmd/identitygate/cmd"
)

func main() {
	cmd.Execute()
}
