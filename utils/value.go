package utils

// DataAs returns a tensor's backing data as T, or an error naming the type it really has.
func DataAs[T any](t interface{ Data() interface{} }) (T, error) {
	data := t.Data()
	typed, ok := data.(T)
	if !ok {
		var zero T
		return zero, NewUnexpectedTypeError[T](data)
	}
	return typed, nil
}
