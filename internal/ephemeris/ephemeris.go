package ephemeris

import (
	"math"
	"time"
)

// Ephemeris is the astronomical snapshot for one calendar date. It is a
// pure function of the date: computing it twice for the same date yields
// identical values.
type Ephemeris struct {
	Date      string     `json:"date"`
	Positions []Position `json:"positions"`
	Aspects   []Aspect   `json:"aspects"`
	Lunar     LunarState `json:"lunar"`
}

// Position is a body's ecliptic longitude and zodiacal placement.
type Position struct {
	Body      string  `json:"body"`
	Longitude float64 `json:"longitude"` // degrees, [0, 360)
	Sign      string  `json:"sign"`
	SignDeg   float64 `json:"sign_deg"` // degrees into the sign, [0, 30)
}

// Aspect is an angular relationship between two bodies within orb.
type Aspect struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Name  string  `json:"name"`
	Angle float64 `json:"angle"` // exact aspect angle
	Orb   float64 `json:"orb"`   // deviation from exact, degrees
}

// LunarState describes the moon on the given date.
type LunarState struct {
	Phase        string  `json:"phase"`
	Illumination float64 `json:"illumination"` // [0, 1]
	Sign         string  `json:"sign"`
	VoidOfCourse bool    `json:"void_of_course"`
}

var signs = [12]string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// body holds mean-motion elements: longitude at epoch J2000 and daily
// motion in degrees. Mean elements only; this is a symbolic ephemeris,
// not a navigation-grade one.
type body struct {
	name   string
	epoch  float64 // mean longitude at J2000.0
	motion float64 // degrees per day
}

var bodies = []body{
	{"Sun", 280.460, 0.9856474},
	{"Moon", 218.316, 13.176396},
	{"Mercury", 252.251, 4.0923344},
	{"Venus", 181.980, 1.6021302},
	{"Mars", 355.433, 0.5240207},
	{"Jupiter", 34.351, 0.0830853},
	{"Saturn", 50.077, 0.0334442},
	{"Uranus", 314.055, 0.0117258},
	{"Neptune", 304.349, 0.0059810},
	{"Pluto", 238.929, 0.0039757},
}

type aspectDef struct {
	name  string
	angle float64
	orb   float64
}

var aspectDefs = []aspectDef{
	{"conjunction", 0, 8},
	{"sextile", 60, 5},
	{"square", 90, 7},
	{"trine", 120, 7},
	{"opposition", 180, 8},
}

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// Compute returns the ephemeris for a calendar date given as YYYY-MM-DD.
// Malformed dates yield the zero snapshot for the epoch, which keeps the
// function total; callers validate dates upstream.
func Compute(date string) Ephemeris {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		t = j2000
	}
	// Noon UT on the business date.
	days := t.Add(12*time.Hour).Sub(j2000).Hours() / 24

	eph := Ephemeris{Date: date}
	for _, b := range bodies {
		lon := normalize(b.epoch + b.motion*days)
		eph.Positions = append(eph.Positions, Position{
			Body:      b.name,
			Longitude: round3(lon),
			Sign:      signs[int(lon/30)%12],
			SignDeg:   round3(math.Mod(lon, 30)),
		})
	}

	for i := 0; i < len(eph.Positions); i++ {
		for j := i + 1; j < len(eph.Positions); j++ {
			sep := separation(eph.Positions[i].Longitude, eph.Positions[j].Longitude)
			for _, def := range aspectDefs {
				orb := math.Abs(sep - def.angle)
				if orb <= def.orb {
					eph.Aspects = append(eph.Aspects, Aspect{
						A:     eph.Positions[i].Body,
						B:     eph.Positions[j].Body,
						Name:  def.name,
						Angle: def.angle,
						Orb:   round3(orb),
					})
					break
				}
			}
		}
	}

	eph.Lunar = lunarState(eph)
	return eph
}

func lunarState(eph Ephemeris) LunarState {
	var sun, moon Position
	for _, p := range eph.Positions {
		switch p.Body {
		case "Sun":
			sun = p
		case "Moon":
			moon = p
		}
	}
	elong := normalize(moon.Longitude - sun.Longitude)

	var phase string
	switch {
	case elong < 45:
		phase = "new"
	case elong < 90:
		phase = "waxing crescent"
	case elong < 135:
		phase = "first quarter"
	case elong < 180:
		phase = "waxing gibbous"
	case elong < 225:
		phase = "full"
	case elong < 270:
		phase = "waning gibbous"
	case elong < 315:
		phase = "last quarter"
	default:
		phase = "waning crescent"
	}

	// Void-of-course approximation: moon in the final degrees of its sign
	// with no aspect to any other body.
	void := moon.SignDeg >= 27
	if void {
		for _, a := range eph.Aspects {
			if a.A == "Moon" || a.B == "Moon" {
				void = false
				break
			}
		}
	}

	return LunarState{
		Phase:        phase,
		Illumination: round3((1 - math.Cos(elong*math.Pi/180)) / 2),
		Sign:         moon.Sign,
		VoidOfCourse: void,
	}
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// separation is the angular distance between two longitudes, [0, 180].
func separation(a, b float64) float64 {
	d := math.Abs(normalize(a) - normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
