// Package permission resolves read/write/admin access for a user against
// a document: ownership, a direct document grant, and an inherited vault
// grant, combined by taking the most permissive of the two grants. Every
// check queries the database (the document row, then the document and
// vault grants); nothing is cached, since each check happens once per
// session handshake rather than per operation.
package permission
