// Package content holds the JSON documents the site renders.
//
// Documents come from one of two places:
//   - the local snapshot: documents bundled with the build (embedded seed,
//     a directory, or an S3 prefix), loaded once at startup into the [Manager]
//   - the remote store: the GitHub repository, read per request with the
//     editor's token while a preview session is active
//
// [Resolver] picks the source from the request's preview session and always
// returns the same [Document] shape, so rendering does not care where a
// document came from.
package content
