// Package password hashes and verifies login passwords with Argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Salt and hash are unpadded standard base64. NeedsUpgrade reports hashes
// produced with weaker parameters than the current Config.
package password
