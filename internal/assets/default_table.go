package assets

// DefaultTable returns the built-in ticker table, which the daemon uses
// whether or not AssetRegistryPath is configured. Asset ids are
// placeholders derived from the ticker name, not real Liquid asset ids.
func DefaultTable() (map[Ticker]TickerEntry, Ticker) {
	table := map[Ticker]TickerEntry{
		"LBTC": {AssetId: tickerPlaceholder("LBTC"), Precision: 8},
		"USDT": {AssetId: tickerPlaceholder("USDT"), Precision: 8},
	}
	return table, "LBTC"
}

func tickerPlaceholder(ticker string) AssetId {
	var id AssetId
	copy(id[:], ticker)
	return id
}
