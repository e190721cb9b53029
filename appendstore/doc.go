// Package appendstore is an append-only record store kept in two files:
// an index file (default: "index.txt") and a data file (default: "data.bin").
//
// Each record is a binary payload appended to the data file followed by
// a line in the index file:
//
//	<offset> <size> <timestamp> <writer> [<codec>]
//
// <writer> is the name of the writer handle that appended the record and
// <codec> (optional) is the compression of the payload ("zstd" or "br").
//
// # Basic Usage
//
//	s := &appendstore.Store{DataDir: "./data"}
//	err := appendstore.OpenStore(s)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	w, err := s.NewWriter("w0")
//	w.BeginRecord()
//	w.WriteUint32(5)
//	w.WriteString("hello")
//	err = w.EndRecord()
//	w.Close()
//
//	r, err := s.NewReader()
//	for r.Advance() {
//	    n, err := r.ReadUint32()
//	    // ...
//	}
//	err = r.Err()
//
// # Thread Safety
//
// Any number of writer handles can append concurrently. Each record is
// appended atomically but the store doesn't order records from different
// handles: records appear in the order EndRecord calls acquire the store.
// A single handle must not be used from multiple goroutines.
package appendstore
