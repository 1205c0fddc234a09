// Package secure holds credentials that only live for the duration of a
// run, such as the Elasticsearch superuser password read from the cluster.
//
// Values are kept in a memguard enclave (encrypted at rest, mlocked when
// possible) and are only decrypted inside Reveal callbacks:
//
//	buf, err := secure.NewSecureBuffer(password)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	err = buf.Reveal(func(plain []byte) error {
//	    return useIt(plain)
//	})
//
// Call memguard.Purge (via secure.Purge) before the process exits.
package secure
