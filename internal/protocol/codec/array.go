package codec

// preallocLimit caps the capacity reserved from a wire-declared length.
// Longer arrays grow as their elements actually arrive.
const preallocLimit = 1024

func initialCap(n int) int { return min(n, preallocLimit) }

// ArrayByteLen is the encoded size of an array of Encodable values.
func ArrayByteLen[T Encodable](values []T) int {
	size := 4
	for _, v := range values {
		size += v.ByteLen()
	}
	return size
}

// WriteArray writes a length-prefixed array. A nil slice is the null array.
func WriteArray[T Encodable](w *Writer, values []T) {
	if values == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(values)))
	for _, v := range values {
		v.EncodeTo(w)
	}
}

// ReadArray reads a length-prefixed array of T. The null array decodes as nil.
func ReadArray[T any, PT interface {
	*T
	Decodable
}](r *Reader) []T {
	n, ok := r.ArrayLength()
	if !ok {
		return nil
	}
	out := make([]T, 0, initialCap(n))
	for i := 0; i < n; i++ {
		var v T
		PT(&v).DecodeFrom(r)
		if r.err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// SliceByteLen is the encoded size of an array whose elements are sized by size.
func SliceByteLen[T any](values []T, size func(T) int) int {
	total := 4
	for _, v := range values {
		total += size(v)
	}
	return total
}

// WriteSlice writes an array of primitives, e.g. WriteSlice(w, ids, (*Writer).Uint32).
func WriteSlice[T any](w *Writer, values []T, write func(*Writer, T)) {
	if values == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(values)))
	for _, v := range values {
		write(w, v)
	}
}

// ReadSlice reads an array of primitives, e.g. ReadSlice(r, (*Reader).Uint32).
func ReadSlice[T any](r *Reader, read func(*Reader) T) []T {
	n, ok := r.ArrayLength()
	if !ok {
		return nil
	}
	out := make([]T, 0, initialCap(n))
	for i := 0; i < n; i++ {
		v := read(r)
		if r.err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// FixedSize returns a size function for fixed-width elements.
func FixedSize[T any](n int) func(T) int {
	return func(T) int { return n }
}
