package classifier

import (
	"fmt"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
)

var errNoRulePacks = fmt.Errorf("%w: strict mode requires classifier rule packs", chaoserrors.ErrClassifier)
