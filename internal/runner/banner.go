package runner

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/sessionhunt/pkg/version"
)

var banner = `
                          _               __                __
   ________  __________(_)___  ____     / /_  __  ______  / /_
  / ___/ _ \/ ___/ ___/ / __ \/ __ \   / __ \/ / / / __ \/ __/
 (__  )  __(__  |__  ) / /_/ / / / /  / / / / /_/ / / / / /_
/____/\___/____/____/_/\____/_/ /_/  /_/ /_/\__,_/_/ /_/\__/
`

// showBanner is used to show the banner to the user
func showBanner() {
	gologger.Print().Msgf("%s\n", banner)
	gologger.Print().Msgf("\t\t%s\n\n", version.String())
}
