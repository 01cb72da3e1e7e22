package sqlinline

const QEnsureCreationsTable = `--sql 9f831639-ed17-4084-bdf2-cc1fd1fd4ea4
create table if not exists creations (
    id uuid primary key,
    session_id text not null,
    prompt text not null,
    size text not null,
    prompt_extend boolean not null default true,
    watermark boolean not null default false,
    task_id text not null default '',
    image_url text not null,
    storage_key text not null default '',
    created_at timestamptz not null default now()
);
create index if not exists creations_created_at_idx on creations (created_at desc);
`

const QInsertCreation = `--sql 77f24d52-552e-424d-abd1-1382fdeb29c7
insert into creations(id, session_id, prompt, size, prompt_extend, watermark, task_id, image_url, storage_key, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::boolean, $6::boolean, $7::text, $8::text, $9::text, now())
returning created_at;
`

const QListRecentCreations = `--sql 7f123f13-0aff-4040-9d7d-17f99f8f8f6e
select id::text, session_id, prompt, size, prompt_extend, watermark, task_id, image_url, storage_key, created_at
from creations
order by created_at desc
limit $1::int;
`

const QGetCreation = `--sql 085e11a7-f66a-44d5-bdba-1d997933bbd8
select id::text, session_id, prompt, size, prompt_extend, watermark, task_id, image_url, storage_key, created_at
from creations
where id = $1::uuid;
`
