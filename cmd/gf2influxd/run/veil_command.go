package run

import (
	"fmt"
	"io"
	"os"

	"github.com/gf2influx/gf2influx/secret"
)

// VeilCommand represents the command executed by "gf2influxd veil".
type VeilCommand struct {
	Stdout io.Writer
}

func NewVeilCommand() *VeilCommand {
	return &VeilCommand{Stdout: os.Stdout}
}

// Run prints password veiled with salt, ready to be used as the influxdb
// password together with the same secret-salt.
func (cmd *VeilCommand) Run(salt, password string) error {
	v, err := secret.Veil(password, salt)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Stdout, v)
	return nil
}
