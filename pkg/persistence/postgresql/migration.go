package postgresql

// migrations returns the ordered schema migrations for the run ledger.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_runs (
				id UUID PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				project_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'PENDING'
					CHECK (state IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'CANCELED')),
				input JSONB,
				output JSONB,
				error JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_runs_project
				ON workflow_runs (project_id, user_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS workflow_steps (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES workflow_runs (id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				step_order INTEGER NOT NULL,
				tool_name TEXT,
				state TEXT NOT NULL DEFAULT 'PENDING'
					CHECK (state IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'CANCELED')),
				input JSONB,
				output JSONB,
				error JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, step_order)
			);
		`,
	}
}
