package marketdata

// nseUniverse is the default symbol list, most liquid first.
var nseUniverse = []string{
	"RELIANCE.NS", "TCS.NS", "HDFCBANK.NS", "BHARTIARTL.NS", "ICICIBANK.NS",
	"INFY.NS", "SBIN.NS", "LICI.NS", "ITC.NS", "HINDUNILVR.NS",
	"LT.NS", "KOTAKBANK.NS", "HCLTECH.NS", "MARUTI.NS", "SUNPHARMA.NS",
	"TITAN.NS", "ONGC.NS", "NTPC.NS", "ASIANPAINT.NS", "M&M.NS",
	"NESTLEIND.NS", "TATAMOTORS.NS", "ULTRACEMCO.NS", "ADANIPORTS.NS",
	"WIPRO.NS", "POWERGRID.NS", "BAJFINANCE.NS", "COALINDIA.NS",
	"HDFCLIFE.NS", "GRASIM.NS", "TECHM.NS", "INDUSINDBK.NS",
	"TATASTEEL.NS", "BAJAJFINSV.NS", "AXISBANK.NS", "CIPLA.NS",
	"EICHERMOT.NS", "DRREDDY.NS", "JSWSTEEL.NS", "BRITANNIA.NS",
	"DIVISLAB.NS", "ADANIENSOL.NS", "APOLLOHOSP.NS", "HINDALCO.NS",
	"HEROMOTOCO.NS", "BAJAJ-AUTO.NS", "GODREJCP.NS", "SIEMENS.NS",
	"PIDILITIND.NS", "VEDL.NS", "SHREECEM.NS", "DABUR.NS",
	"BERGEPAINT.NS", "MARICO.NS", "COLPAL.NS", "BANKBARODA.NS",
	"TATACONSUM.NS", "AMBUJACEM.NS", "LUPIN.NS", "GAIL.NS",
	"TRENT.NS", "TORNTPHARM.NS", "HAVELLS.NS", "IDEA.NS",
	"UNITDSPR.NS", "PAGEIND.NS", "LTIM.NS", "SBILIFE.NS",
	"MOTHERSON.NS", "ADANIENT.NS", "JUBLFOOD.NS", "CONCOR.NS",
	"BEL.NS", "INDUSTOWER.NS", "MPHASIS.NS", "INDIGO.NS",
	"NAUKRI.NS", "BOSCHLTD.NS", "LICHSGFIN.NS", "PNB.NS",
	"OFSS.NS", "PERSISTENT.NS", "POLYCAB.NS", "ALKEM.NS",
	"INDIANB.NS", "CUMMINSIND.NS", "BIOCON.NS", "BALKRISIND.NS",
	"CHAMBLFERT.NS", "MRF.NS", "AUROPHARMA.NS", "RBLBANK.NS",
	"CHOLAFIN.NS", "GMRAIRPORT.NS", "FEDERALBNK.NS", "MANAPPURAM.NS",
	"RECLTD.NS", "NATIONALUM.NS", "NMDC.NS", "SAIL.NS",
	"JINDALSTEL.NS", "ZEEL.NS", "ASHOKLEY.NS", "VOLTAS.NS",
}

// DefaultUniverse returns the first limit symbols; limit <= 0 returns all.
func DefaultUniverse(limit int) []string {
	if limit <= 0 || limit > len(nseUniverse) {
		limit = len(nseUniverse)
	}
	out := make([]string, limit)
	copy(out, nseUniverse[:limit])
	return out
}
