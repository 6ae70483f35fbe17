package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/linkguard/core/telegram/format"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/internal/geo"
)

// handleGeo serves /geo with what the provider reports for the address the
// lookup originates from, which is the bot host and not the user.
func (a *App) handleGeo(c tele.Context) error {
	loc := a.gate.Lookup(tghelpers.BuildContext(c), "")
	return tghelpers.SendMD(c, a.geoReport(loc))
}

func (a *App) geoReport(loc geo.Location) string {
	field := func(s string) string {
		if s == "" {
			return geo.UnknownCountry
		}
		return strings.ReplaceAll(s, "`", "'")
	}
	text := fmt.Sprintf(geoText,
		field(loc.Address), field(loc.Country), field(loc.Region),
		field(loc.City), field(loc.ISP), field(loc.Timezone),
	)
	if a.gate.Allows(loc) {
		return text + geoAllowedText
	}
	return text + fmt.Sprintf(geoDeniedText, format.MD(a.allowedCountries()))
}
