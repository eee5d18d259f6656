package i18n

import "golang.org/x/text/language"

// Message keys shared by the advisory and notification layers
const (
	KeyGPSPoor            = "gps.accuracy.poor"
	KeyGPSModerate        = "gps.accuracy.moderate"
	KeyDragAlarmTitle     = "notify.drag_alarm.title"
	KeyDragAlarmBody      = "notify.drag_alarm.body"
	KeyRecoveredTitle     = "notify.drag_recovered.title"
	KeyRecoveredBody      = "notify.drag_recovered.body"
	KeyGPSDegradedTitle   = "notify.gps_degraded.title"
	KeyWatchArmedTitle    = "notify.watch_armed.title"
	KeyWatchArmedBody     = "notify.watch_armed.body"
	KeyWatchDisarmedTitle = "notify.watch_disarmed.title"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.Swedish,
	language.French,
	language.Spanish,
}

var messages = map[language.Tag]map[string]string{
	language.English: {
		KeyGPSPoor:            "GPS accuracy is poor. Drag alarm reliability is degraded.",
		KeyGPSModerate:        "GPS accuracy is moderate. Monitor your position more closely.",
		KeyDragAlarmTitle:     "Anchor drag alarm",
		KeyDragAlarmBody:      "Boat is %.0f m from the anchor (limit %.0f m).",
		KeyRecoveredTitle:     "Back inside swing circle",
		KeyRecoveredBody:      "Boat is %.0f m from the anchor (limit %.0f m).",
		KeyGPSDegradedTitle:   "GPS accuracy degraded",
		KeyWatchArmedTitle:    "Anchor watch armed",
		KeyWatchArmedBody:     "Watching with a %.0f m drag limit.",
		KeyWatchDisarmedTitle: "Anchor watch stopped",
	},
	language.German: {
		KeyGPSPoor:            "GPS-Genauigkeit ist schlecht. Der Ankeralarm ist weniger zuverlässig.",
		KeyGPSModerate:        "GPS-Genauigkeit ist mäßig. Position genauer beobachten.",
		KeyDragAlarmTitle:     "Ankeralarm",
		KeyDragAlarmBody:      "Das Boot ist %.0f m vom Anker entfernt (Grenze %.0f m).",
		KeyRecoveredTitle:     "Wieder im Schwojkreis",
		KeyRecoveredBody:      "Das Boot ist %.0f m vom Anker entfernt (Grenze %.0f m).",
		KeyGPSDegradedTitle:   "GPS-Genauigkeit verschlechtert",
		KeyWatchArmedTitle:    "Ankerwache aktiv",
		KeyWatchArmedBody:     "Überwachung mit %.0f m Grenze.",
		KeyWatchDisarmedTitle: "Ankerwache beendet",
	},
	language.Swedish: {
		KeyGPSPoor:            "GPS-noggrannheten är dålig. Ankarlarmet är mindre tillförlitligt.",
		KeyGPSModerate:        "GPS-noggrannheten är måttlig. Håll extra koll på positionen.",
		KeyDragAlarmTitle:     "Ankarlarm",
		KeyDragAlarmBody:      "Båten är %.0f m från ankaret (gräns %.0f m).",
		KeyRecoveredTitle:     "Tillbaka inom svajcirkeln",
		KeyWatchArmedTitle:    "Ankarvakt aktiverad",
		KeyWatchDisarmedTitle: "Ankarvakt avslutad",
	},
	language.French: {
		KeyGPSPoor:            "La précision GPS est mauvaise. L'alarme de dérapage est moins fiable.",
		KeyGPSModerate:        "La précision GPS est moyenne. Surveillez votre position de plus près.",
		KeyDragAlarmTitle:     "Alarme de dérapage",
		KeyDragAlarmBody:      "Le bateau est à %.0f m de l'ancre (limite %.0f m).",
		KeyWatchArmedTitle:    "Veille au mouillage activée",
		KeyWatchDisarmedTitle: "Veille au mouillage arrêtée",
	},
	language.Spanish: {
		KeyGPSPoor:            "La precisión del GPS es mala. La alarma de garreo es menos fiable.",
		KeyGPSModerate:        "La precisión del GPS es moderada. Vigile su posición más de cerca.",
		KeyDragAlarmTitle:     "Alarma de garreo",
		KeyDragAlarmBody:      "El barco está a %.0f m del ancla (límite %.0f m).",
		KeyWatchArmedTitle:    "Guardia de fondeo activada",
		KeyWatchDisarmedTitle: "Guardia de fondeo detenida",
	},
}
