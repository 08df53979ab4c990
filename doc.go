// Package gopagecache provides a client-side cache and fetch coordinator for
// page based data sources.
//
// Overview
//
// A source is a fetch function returning one page of items together with the
// total number of items. gopagecache keeps, per source and per distinct set of
// filter arguments, a partition sized to that total and fills it page by page.
// A page is fetched only when some position of the requested window is not
// cached yet.
//
// Key concepts
//   - Cache: owns the source directory. Independent caches share nothing.
//   - Source: a named fetch function with a shared registry; supports
//     Refresh and FetchRange.
//   - Inline source: an anonymous fetch function whose registry is private to
//     one View.
//   - Signature: the registry key derived from filter arguments. Structurally
//     equal arguments share a partition, nil arguments use DefaultKey.
//   - View: binds observable page, page size and args inputs to a source and
//     exposes Items, Loading, Total and TotalPages as observable outputs.
//
// Usage
//
//	cache := gopagecache.New[User](nil)
//	cache.CreateSource("users", fetchUsers)
//
//	view := gopagecache.NewView(ctx, cache, gopagecache.Named[User]("users"), gopagecache.ViewOptions{
//		PageSize: 20,
//	})
//	defer view.Close()
//
//	view.Page().Set(2)
//	_ = view.Settle(ctx)
//	users := view.Items().Get()
package gopagecache
