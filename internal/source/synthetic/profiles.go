package synthetic

// ParksCanada stands in for the Parks Canada open data feed.
var ParksCanada = Profile{
	SourceType:  "parks_canada",
	DisplayName: "Parks Canada",
	IDPrefix:    "pc",
	Regions: []Region{
		{"Banff National Park", "AB", "CA", 51.4968, -115.9281},
		{"Jasper National Park", "AB", "CA", 52.8734, -117.9543},
		{"Yoho National Park", "BC", "CA", 51.4667, -116.5833},
		{"Kootenay National Park", "BC", "CA", 50.8833, -116.0333},
		{"Pacific Rim National Park Reserve", "BC", "CA", 49.0417, -125.7167},
		{"Waterton Lakes National Park", "AB", "CA", 49.0833, -113.9167},
		{"Gros Morne National Park", "NL", "CA", 49.5833, -57.7500},
		{"Cape Breton Highlands National Park", "NS", "CA", 46.7333, -60.6500},
		{"Fundy National Park", "NB", "CA", 45.5950, -64.9511},
		{"Bruce Peninsula National Park", "ON", "CA", 45.2000, -81.5333},
		{"La Mauricie National Park", "QC", "CA", 46.7833, -72.9833},
		{"Kluane National Park and Reserve", "YT", "CA", 60.7500, -139.5000},
	},
}

// StateParks stands in for the aggregated US state park systems.
var StateParks = Profile{
	SourceType:  "state_parks",
	DisplayName: "US State Parks",
	IDPrefix:    "sp",
	Regions: []Region{
		{"Eldorado Canyon State Park", "CO", "US", 39.9311, -105.2922},
		{"Custer State Park", "SD", "US", 43.7520, -103.4196},
		{"Valley of Fire State Park", "NV", "US", 36.4313, -114.5133},
		{"Letchworth State Park", "NY", "US", 42.5795, -78.0517},
		{"Baxter State Park", "ME", "US", 46.0004, -68.9226},
		{"Anza-Borrego Desert State Park", "CA", "US", 33.2556, -116.3995},
		{"Palo Duro Canyon State Park", "TX", "US", 34.9373, -101.6590},
		{"Starved Rock State Park", "IL", "US", 41.3195, -88.9945},
		{"Porcupine Mountains Wilderness State Park", "MI", "US", 46.7750, -89.7800},
		{"Smith Rock State Park", "OR", "US", 44.3672, -121.1406},
		{"Hocking Hills State Park", "OH", "US", 39.4300, -82.5400},
		{"Chugach State Park", "AK", "US", 61.1667, -149.2000},
	},
}

// usRegions anchors stand-ins for the US federal sources.
var usRegions = []Region{
	{"Rocky Mountain National Park", "CO", "US", 40.3428, -105.6836},
	{"Yosemite National Park", "CA", "US", 37.8651, -119.5383},
	{"Great Smoky Mountains National Park", "TN", "US", 35.6118, -83.4895},
	{"Olympic National Forest", "WA", "US", 47.5000, -123.5000},
	{"White Mountain National Forest", "NH", "US", 44.1000, -71.4000},
	{"Coconino National Forest", "AZ", "US", 34.8500, -111.7600},
	{"Shenandoah National Park", "VA", "US", 38.5300, -78.3500},
	{"Glacier National Park", "MT", "US", 48.7596, -113.7870},
}

// StandIn returns a profile for a live source type that is disabled.
func StandIn(sourceType, displayName string) Profile {
	return Profile{
		SourceType:  sourceType,
		DisplayName: displayName + " (synthetic)",
		IDPrefix:    sourceType + "-synthetic",
		Regions:     usRegions,
	}
}
