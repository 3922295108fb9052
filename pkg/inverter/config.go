package inverter

import (
	"fmt"
	"time"

	"github.com/gridwatch/gridwatch/pkg/common"
	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Luxpower source and registers its flags.
func Configured() *Luxpower {
	apiURL := lflag.String("luxpower-api-url", "https://eu.luxpowertek.com", "Base URL of the Luxpower monitor portal")
	username := lflag.RequiredString("luxpower-username", "Luxpower portal account")
	password := lflag.RequiredString("luxpower-password", "Luxpower portal password")
	timezone := lflag.String("plant-timezone", "UTC", "IANA timezone of the plant, used for calendar-day bucketing")
	serial := lflag.RequiredString("inverter-serial", "Serial number of the inverter")

	l := &Luxpower{
		client: common.HTTPClient(time.Minute),
		loc:    time.UTC,
	}

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid plant-timezone (%s): %v", *timezone, err))
		}
		l.loc = loc
		l.baseURL = *apiURL
		l.serial = *serial
		l.auth = &formLogin{
			client:   noRedirect(l.client),
			baseURL:  *apiURL,
			username: *username,
			password: *password,
		}
	})

	return l
}
