// Package password implements memory-hard credential hashing (Argon2id,
// PHC string format) for the identity core. Hashes carry their own cost
// parameters so deployments can raise costs and rehash on login.
package password
