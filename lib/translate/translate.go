package translate

import (
	"os"

	"gopkg.in/leonelquinteros/gotext.v1"
)

// default locale to use
const DefaultLocale = "en_US"
const Domain = "default"

// Path is where gettext catalogs are looked up
const Path = "lang"

const env = "SWARMWATCH_LANG"

func init() {
	lc := os.Getenv(env)
	if lc == "" {
		lc = DefaultLocale
	}
	gotext.Configure(Path, lc, Domain)
}

var TN = gotext.GetN
var T = gotext.Get

/** convert error to string */
func E(err error) (str string) {
	if err != nil {
		str = T(err.Error())
	}
	return
}
