package recognition

import "fmt"

// PageSegMode is Tesseract's page segmentation assumption
type PageSegMode int

const (
	PSMSingleBlock PageSegMode = 6
	PSMSingleLine  PageSegMode = 7
	PSMSingleWord  PageSegMode = 8
	PSMSingleChar  PageSegMode = 10
	PSMRawLine     PageSegMode = 13
)

// EngineMode is Tesseract's OCR engine mode. EngineDefault leaves the
// library default in place.
type EngineMode int

const (
	EngineDefault       EngineMode = -1
	EngineLegacy        EngineMode = 0
	EngineLSTM          EngineMode = 1
	EngineLegacyAndLSTM EngineMode = 2
	EngineAuto          EngineMode = 3
)

// Character whitelists
const (
	AlphaNumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	UpperDigits  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	LowerDigits  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Config is one OCR parameter set of the sweep
type Config struct {
	PageSegMode PageSegMode
	EngineMode  EngineMode
	Whitelist   string
	// NoDictionaries turns off load_system_dawg and load_freq_dawg
	NoDictionaries bool
}

// InitOnly reports whether the config needs parameters that Tesseract only
// reads at initialisation
func (c Config) InitOnly() bool {
	return c.EngineMode != EngineDefault || c.NoDictionaries
}

func (c Config) String() string {
	s := fmt.Sprintf("psm=%d", c.PageSegMode)
	if c.EngineMode != EngineDefault {
		s += fmt.Sprintf(" oem=%d", c.EngineMode)
	}
	switch c.Whitelist {
	case "":
	case AlphaNumeric:
		s += " wl=alnum"
	case UpperDigits:
		s += " wl=upper"
	case LowerDigits:
		s += " wl=lower"
	default:
		s += " wl=custom"
	}
	if c.NoDictionaries {
		s += " nodawg"
	}
	return s
}

// DefaultConfigs is the sweep catalogue, in invocation order
func DefaultConfigs() []Config {
	return []Config{
		{PageSegMode: PSMSingleWord, EngineMode: EngineAuto},
		{PageSegMode: PSMSingleLine, EngineMode: EngineAuto},
		{PageSegMode: PSMSingleBlock, EngineMode: EngineAuto},
		{PageSegMode: PSMRawLine, EngineMode: EngineDefault},

		{PageSegMode: PSMSingleWord, EngineMode: EngineDefault, Whitelist: AlphaNumeric},
		{PageSegMode: PSMSingleLine, EngineMode: EngineDefault, Whitelist: AlphaNumeric},
		{PageSegMode: PSMSingleBlock, EngineMode: EngineDefault, Whitelist: AlphaNumeric},

		{PageSegMode: PSMSingleWord, EngineMode: EngineDefault, Whitelist: UpperDigits},
		{PageSegMode: PSMSingleLine, EngineMode: EngineDefault, Whitelist: UpperDigits},

		{PageSegMode: PSMSingleWord, EngineMode: EngineDefault, Whitelist: LowerDigits},
		{PageSegMode: PSMSingleLine, EngineMode: EngineDefault, Whitelist: LowerDigits},
		{PageSegMode: PSMSingleBlock, EngineMode: EngineDefault, Whitelist: LowerDigits},

		{PageSegMode: PSMSingleWord, EngineMode: EngineLSTM},
		{PageSegMode: PSMSingleLine, EngineMode: EngineLSTM},
		{PageSegMode: PSMSingleWord, EngineMode: EngineLegacyAndLSTM},
		{PageSegMode: PSMSingleChar, EngineMode: EngineAuto},

		{PageSegMode: PSMSingleWord, EngineMode: EngineDefault, Whitelist: LowerDigits, NoDictionaries: true},
		{PageSegMode: PSMSingleLine, EngineMode: EngineDefault, Whitelist: LowerDigits, NoDictionaries: true},
	}
}
