// Package crawler collects recent news articles about the tracked competitors
// into the crawl worksheet.
//
// Every competitor is searched once per keyword on the news search page. Result
// cards yield a title, a link, and usually a relative publication date; the
// linked pages are then fetched with bounded concurrency and reduced to their
// paragraph text. Links already present in the worksheet are skipped, so the
// crawl can be repeated on a schedule without duplicating rows.
package crawler
