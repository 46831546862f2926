// Package password hashes and verifies secrets with Argon2id.
//
// Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. [Hasher.NeedsUpgrade] reports
// digests produced with weaker parameters so callers can rehash after the next
// successful verification.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets.
//   - Import any other goGuard package.
//   - Log plaintext secrets.
package password
