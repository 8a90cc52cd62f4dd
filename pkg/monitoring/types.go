package monitoring

type Record struct {
	Timestamp      int64 `json:"timestamp"`
	CpuUtilization int64 `json:"cpu_util"`
}

type Datasets struct {
	FifteenMinutes []Record `json:"15m"`
	OneHour        []Record `json:"1h"`
	ThreeHours     []Record `json:"3h"`
	LifeTime       []Record `json:"lifetime"`
}
