package runtime

import "context"

func (r *Runtime) watchToggleSignal(ctx context.Context) {
	<-ctx.Done()
}
