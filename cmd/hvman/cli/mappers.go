package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// parsedMapper adapts a string parser to a Kong mapper.
func parsedMapper[T any](placeholder string, parse func(string) (T, error)) kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto(placeholder, &s); err != nil {
			return err
		}
		v, err := parse(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(v))
		return nil
	}
}

func deviceIDMapper() kong.MapperFunc {
	return parsedMapper("device-id", ParseDeviceID)
}

func endpointMapper() kong.MapperFunc {
	return parsedMapper("port:dlci", ParseEndpoint)
}

func udpSpecMapper() kong.MapperFunc {
	return parsedMapper("lport:rhost:rport", ParseUDPSpec)
}

func portRangeMapper() kong.MapperFunc {
	return parsedMapper("start-end", ParsePortRange)
}
