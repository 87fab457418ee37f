// Package pixiv is a small client for the pixiv app API.
//
// The client exchanges a refresh token for short-lived access tokens, renews
// them on expiry or when the API reports an OAuth failure, and retries
// transient failures through pkg/retry. Collection endpoints return
// pagination.Page values so they plug directly into a pagination.Walker:
//
//	client := pixiv.NewClient(pixiv.Config{RefreshToken: token}, log)
//	walker := pagination.New(client.UserIllusts, pixiv.UserIllustsParams(ownerID, "illust"))
//	for walker.Next(ctx) {
//		for _, illust := range walker.Items() {
//			// ...
//		}
//	}
//	if err := walker.Err(); err != nil {
//		// ...
//	}
package pixiv
