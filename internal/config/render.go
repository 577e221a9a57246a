package config

import (
	"time"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/lox/blackjack/internal/fileutil"
)

// Render formats c as an HCL file that Load reads back to the same values.
func (c *Config) Render() []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	server := root.AppendNewBlock("server", nil).Body()
	server.SetAttributeValue("address", cty.StringVal(c.Server.Address))
	server.SetAttributeValue("log_level", cty.StringVal(c.Server.LogLevel))
	server.SetAttributeValue("grace", durationVal(c.Server.Grace))
	server.SetAttributeValue("max_rooms", cty.NumberIntVal(int64(c.Server.MaxRooms)))
	root.AppendNewline()

	r := c.Room
	rb := root.AppendNewBlock("room", nil).Body()
	rb.SetAttributeValue("max_seats", cty.NumberIntVal(int64(r.MaxSeats)))
	rb.SetAttributeValue("decks", cty.NumberIntVal(int64(r.Decks)))
	rb.SetAttributeValue("penetration", cty.NumberFloatVal(r.Penetration))
	rb.SetAttributeValue("bet_duration", durationVal(r.BetDuration))
	rb.SetAttributeValue("deal_duration", durationVal(r.DealDuration))
	rb.SetAttributeValue("turn_duration", durationVal(r.TurnDuration))
	rb.SetAttributeValue("payout_duration", durationVal(r.PayoutDuration))
	rb.SetAttributeValue("tick_interval", durationVal(r.TickInterval))
	rb.SetAttributeValue("chips", chipsVal(r.Chips))
	rb.SetAttributeValue("refill_amount", cty.NumberIntVal(r.RefillAmount))
	root.AppendNewline()

	balance := root.AppendNewBlock("balance", nil).Body()
	balance.SetAttributeValue("database", cty.StringVal(c.Balance.Database))
	balance.SetAttributeValue("starting_cash", cty.NumberIntVal(c.Balance.StartingCash))
	balance.SetAttributeValue("ledger_queue", cty.NumberIntVal(int64(c.Balance.LedgerQueue)))
	root.AppendNewline()

	auth := root.AppendNewBlock("auth", nil).Body()
	auth.SetAttributeValue("url", cty.StringVal(c.Auth.URL))
	auth.SetAttributeValue("secret", cty.StringVal(c.Auth.Secret))
	auth.SetAttributeValue("timeout", durationVal(c.Auth.Timeout))
	root.AppendNewline()

	telemetry := root.AppendNewBlock("telemetry", nil).Body()
	telemetry.SetAttributeValue("enabled", cty.BoolVal(c.Telemetry.Enabled))
	telemetry.SetAttributeValue("file", cty.StringVal(c.Telemetry.File))
	telemetry.SetAttributeValue("buffer", cty.NumberIntVal(int64(c.Telemetry.Buffer)))

	return f.Bytes()
}

// WriteFile renders c to filename, replacing any existing file in one step.
func (c *Config) WriteFile(filename string) error {
	return fileutil.WriteFileAtomic(filename, c.Render(), 0o644)
}

func durationVal(d time.Duration) cty.Value {
	return cty.StringVal(d.String())
}

func chipsVal(chips []int64) cty.Value {
	if len(chips) == 0 {
		return cty.ListValEmpty(cty.Number)
	}
	vals := make([]cty.Value, len(chips))
	for i, chip := range chips {
		vals[i] = cty.NumberIntVal(chip)
	}
	return cty.ListVal(vals)
}
