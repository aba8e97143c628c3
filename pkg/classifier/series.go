package classifier

import "strconv"

// SeriesType is the protocol sequence number of an imaging series.
type SeriesType int

const (
	SeriesLocalizer    SeriesType = 2
	SeriesT2           SeriesType = 3
	SeriesT2Flair      SeriesType = 4
	SeriesMPRAGE       SeriesType = 5
	SeriesMID          SeriesType = 7
	SeriesFaces        SeriesType = 9
	SeriesStopSignal   SeriesType = 11
	SeriesB0Map        SeriesType = 12
	SeriesDTI          SeriesType = 13
	SeriesRestingState SeriesType = 14
	SeriesShortMPRAGE  SeriesType = 15
	SeriesGlobal       SeriesType = 16
	SeriesNODDI        SeriesType = 17
)

var seriesNames = map[SeriesType]string{
	SeriesLocalizer:    "Localizer/Calibration",
	SeriesT2:           "T2",
	SeriesT2Flair:      "T2 Flair",
	SeriesMPRAGE:       "ADNI MPRAGE",
	SeriesMID:          "EPI MID",
	SeriesFaces:        "EPI Faces",
	SeriesStopSignal:   "EPI Signal Stop",
	SeriesB0Map:        "B0 Map",
	SeriesDTI:          "DTI",
	SeriesRestingState: "Resting State",
	SeriesShortMPRAGE:  "Short MPRAGE",
	SeriesGlobal:       "EPI Global",
	SeriesNODDI:        "NODDI",
}

func (s SeriesType) String() string {
	if name, ok := seriesNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s SeriesType) key() string {
	return strconv.Itoa(int(s))
}

func parseSeriesType(value string) (SeriesType, bool) {
	n, err := strconv.Atoi(value)
	if err == nil {
		_, ok := seriesNames[SeriesType(n)]
		return SeriesType(n), ok
	}
	for series, name := range seriesNames {
		if name == value {
			return series, true
		}
	}
	return 0, false
}
